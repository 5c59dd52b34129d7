package engines

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"pulsewatch/internal/clients"
	"pulsewatch/internal/models"
)

var (
	profileURLRe = regexp.MustCompile(`(?i)(?:https?://)?(?:www\.)?(?:twitter\.com|x\.com)/([a-zA-Z0-9_]+)`)
	handleRe     = regexp.MustCompile(`@([a-zA-Z0-9_]+)`)
	memoryNameRe = regexp.MustCompile(`Usuario:\s*([^(@]+)`)
)

// reservedHandles are URL path segments that look like handles but are not
var reservedHandles = makeSet("www", "com", "http", "https", "search", "home", "intent")

// UserDiscoveryEngine resolves a free-text person reference to a platform
// handle through an ordered pipeline, stopping at the first success.
// External resolutions above the save threshold are written back to the
// memory store so future identical queries short-circuit at the memory
// lookup stage.
type UserDiscoveryEngine struct {
	llm    clients.LLM
	social clients.SocialContent
	web    clients.WebSearch
	memory clients.Memory

	saveThreshold float64
	knownEntities map[string]string // normalized name → handle
	log           *logrus.Entry
}

// NewUserDiscoveryEngine creates a discovery engine
func NewUserDiscoveryEngine(llm clients.LLM, social clients.SocialContent, web clients.WebSearch, memory clients.Memory, saveThreshold float64) *UserDiscoveryEngine {
	return &UserDiscoveryEngine{
		llm:           llm,
		social:        social,
		web:           web,
		memory:        memory,
		saveThreshold: saveThreshold,
		knownEntities: make(map[string]string),
		log:           logrus.WithField("component", "user_discovery"),
	}
}

// AddKnownEntity seeds the exact-match table checked before anything else
func (e *UserDiscoveryEngine) AddKnownEntity(name, handle string) {
	e.knownEntities[normalizeName(name)] = strings.TrimPrefix(handle, "@")
}

// Resolve runs the full pipeline for one query. The returned resolution
// always carries an outcome; an error is only returned when every stage
// failed for operational reasons rather than a negative answer.
func (e *UserDiscoveryEngine) Resolve(ctx context.Context, query string) (*models.HandleResolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return &models.HandleResolution{Query: query, Outcome: models.OutcomeNotRelevant}, nil
	}
	log := e.log.WithField("query", query)

	// Stage 1: known entities
	if handle, ok := e.knownEntities[normalizeName(query)]; ok {
		log.WithField("handle", handle).Info("resolved via known entities")
		return &models.HandleResolution{
			Query: query, Handle: handle, Confidence: 1,
			Method: models.MethodKnownEntities, Outcome: models.OutcomeResolved,
		}, nil
	}

	// Stage 2: memory lookup
	if res := e.lookupMemory(ctx, query); res != nil {
		log.WithField("handle", res.Handle).Info("resolved via memory")
		return res, nil
	}

	// Stage 3: LLM entity extraction plus platform handle resolution
	if res := e.resolveViaExtraction(ctx, query); res != nil {
		return e.persistAndReturn(ctx, res), nil
	}

	// Stage 4: direct handle verification or single targeted search
	if res := e.resolveDirect(ctx, query); res != nil {
		return e.persistAndReturn(ctx, res), nil
	}

	// Stage 5: multi-strategy search with LLM extraction
	if res := e.resolveMultiStrategy(ctx, query); res != nil {
		return e.persistAndReturn(ctx, res), nil
	}

	// Stage 6: open-ended discovery
	res := e.resolveOpenDiscovery(ctx, query)
	if res == nil {
		res = &models.HandleResolution{
			Query: query, Method: models.MethodOpenDiscovery, Outcome: models.OutcomeNotRelevant,
		}
	}
	return e.persistAndReturn(ctx, res), nil
}

// lookupMemory fuzzy-matches the query against stored user handles.
// Matches accept exact names, substring containment, or word-overlap
// similarity above 0.5 when the full memory text contains the query.
func (e *UserDiscoveryEngine) lookupMemory(ctx context.Context, query string) *models.HandleResolution {
	matches, err := e.memory.Search(ctx, query, 3)
	if err != nil || len(matches) == 0 {
		return nil
	}

	searchName := normalizeName(query)
	for _, match := range matches {
		handleMatch := handleRe.FindStringSubmatch(match.Content)
		if handleMatch == nil {
			continue
		}
		handle := handleMatch[1]

		var resultName string
		if nm := memoryNameRe.FindStringSubmatch(match.Content); nm != nil {
			resultName = normalizeName(nm[1])
		}
		fullText := strings.ToLower(match.Content)

		exact := resultName == searchName
		contains := resultName != "" &&
			(strings.Contains(resultName, searchName) || strings.Contains(searchName, resultName))
		similar := strings.Contains(fullText, searchName) && nameSimilarity(searchName, resultName) > 0.5

		if exact || contains || similar {
			return &models.HandleResolution{
				Query: query, Handle: handle, Name: resultName,
				Confidence: 0.95, Method: models.MethodMemoryLookup,
				Outcome: models.OutcomeResolved, FromMemory: true,
			}
		}
	}
	return nil
}

type extractedEntity struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Context    string  `json:"context"`
	Sector     string  `json:"sector"`
	Confidence float64 `json:"confidence"`
}

// resolveViaExtraction asks the LLM to extract the referenced person from
// the query (enriched with domain-context memories), then resolves the
// extracted name through the platform's own handle resolver.
func (e *UserDiscoveryEngine) resolveViaExtraction(ctx context.Context, query string) *models.HandleResolution {
	var contextLines []string
	if domainCtx, _ := e.memory.SearchDomainContext(ctx, query, 3); len(domainCtx) > 0 {
		for _, m := range domainCtx {
			contextLines = append(contextLines, m.Content)
		}
	}

	system := `Extrae la persona o entidad referida en la consulta. Responde en JSON:
{"name": "nombre extraído", "type": "person|role|institution", "context": "contexto breve", "sector": "gobierno|empresa|prensa|otro", "confidence": 0.0}`
	user := query
	if len(contextLines) > 0 {
		user = fmt.Sprintf("%s\n\nContexto conocido:\n%s", query, strings.Join(contextLines, "\n"))
	}

	var entity extractedEntity
	err := clients.CompleteJSON(ctx, e.llm, []clients.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}, clients.CompleteOptions{Temperature: 0.1, MaxTokens: 200}, &entity)
	if err != nil || entity.Name == "" {
		if err != nil {
			e.log.WithError(err).Debug("entity extraction failed")
		}
		return nil
	}

	candidate, err := e.social.ResolveHandle(ctx, entity.Name, entity.Context, entity.Sector)
	if err != nil || candidate == nil {
		if err != nil {
			e.log.WithError(err).Debug("platform handle resolution failed")
		}
		return nil
	}

	return &models.HandleResolution{
		Query: query, Handle: candidate.Handle, Name: entity.Name,
		Confidence: candidate.Confidence, Method: models.MethodLLMExtraction,
		Outcome: models.OutcomeResolved, Category: entity.Sector,
	}
}

// resolveDirect handles two fast paths: a query that already contains an
// @handle (validated syntactically), and a single targeted search whose
// answer is expected to be a profile URL or NONE.
func (e *UserDiscoveryEngine) resolveDirect(ctx context.Context, query string) *models.HandleResolution {
	if strings.Contains(query, "@") {
		if m := handleRe.FindStringSubmatch(query); m != nil && isPlausibleHandle(m[1]) {
			return &models.HandleResolution{
				Query: query, Handle: m[1], Confidence: 1,
				Method: models.MethodDirectSearch, Outcome: models.OutcomeResolved,
			}
		}
		return nil
	}

	prompt := fmt.Sprintf(
		"Devuélveme SOLO la URL completa (empezando por https://twitter.com/ o https://x.com/) del perfil oficial de X/Twitter de %s. Si no existe, responde EXACTAMENTE la palabra NONE.", query)
	answer, err := e.web.Search(ctx, prompt, "Guatemala")
	if err != nil {
		e.log.WithError(err).Debug("targeted profile search failed")
		return nil
	}
	if handle := extractHandleFromText(answer); handle != "" {
		return &models.HandleResolution{
			Query: query, Handle: handle, Confidence: 0.9,
			Method: models.MethodDirectSearch, Outcome: models.OutcomeResolved,
		}
	}
	return nil
}

type searchStrategy struct {
	query    string
	priority int
}

// buildStrategies produces the prioritized query set for stage 5
func buildStrategies(name, priorInfo, sector string) []searchStrategy {
	strategies := []searchStrategy{
		{fmt.Sprintf("%q Twitter Guatemala perfil oficial", name), 9},
		{fmt.Sprintf("%s X.com Guatemala cuenta oficial", name), 8},
	}
	if sector == "gobierno" {
		strategies = append(strategies, searchStrategy{
			fmt.Sprintf("%s político Guatemala Twitter verificado", name), 9})
	}
	if len(priorInfo) > 50 {
		words := contextWords(priorInfo, 3)
		if words != "" {
			strategies = append(strategies, searchStrategy{
				fmt.Sprintf("%q %s Twitter", name, words), 7})
		}
	}
	sort.SliceStable(strategies, func(i, j int) bool { return strategies[i].priority > strategies[j].priority })
	return strategies
}

type handleExtraction struct {
	Handle     string  `json:"handle"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// resolveMultiStrategy runs the prioritized searches, combines their
// output, and asks the LLM to extract a handle or an explicit NONE.
func (e *UserDiscoveryEngine) resolveMultiStrategy(ctx context.Context, query string) *models.HandleResolution {
	var combined []string
	for _, strategy := range buildStrategies(query, "", "") {
		content, err := e.web.Search(ctx, strategy.query, "Guatemala")
		if err != nil || content == "" {
			continue
		}
		combined = append(combined, content)
	}
	if len(combined) == 0 {
		return nil
	}

	prompt := fmt.Sprintf(`Analiza esta información de búsqueda y extrae el handle oficial de Twitter/X para %q:

INFORMACIÓN DE BÚSQUEDA:
%s

Prioriza cuentas verificadas u oficiales e ignora handles genéricos o spam. Responde en JSON:
{"handle": "username_sin_arroba_o_NONE", "confidence": 0.0, "reasoning": "por qué"}`,
		query, strings.Join(combined, "\n\n"))

	var extraction handleExtraction
	err := clients.CompleteJSON(ctx, e.llm, []clients.ChatMessage{
		{Role: "user", Content: prompt},
	}, clients.CompleteOptions{Temperature: 0.1, MaxTokens: 300}, &extraction)
	if err != nil {
		e.log.WithError(err).Debug("multi-strategy extraction failed")
		return nil
	}
	if extraction.Handle == "" || strings.EqualFold(extraction.Handle, "NONE") || !isPlausibleHandle(extraction.Handle) {
		return nil
	}

	confidence := extraction.Confidence
	if confidence == 0 {
		confidence = 0.7
	}
	return &models.HandleResolution{
		Query: query, Handle: extraction.Handle, Confidence: confidence,
		Method: models.MethodMultiStrategy, Outcome: models.OutcomeResolved,
		Reasoning: extraction.Reasoning,
	}
}

type personAnalysis struct {
	IsPerson        bool    `json:"is_person"`
	IsRelevant      bool    `json:"is_relevant"`
	TwitterUsername string  `json:"twitter_username"`
	Category        string  `json:"category"`
	Description     string  `json:"description"`
	Confidence      float64 `json:"confidence"`
}

// resolveOpenDiscovery is the last resort: an open who-is query followed by
// LLM classification. It distinguishes a relevant person without a findable
// handle from a query that references no relevant entity at all.
func (e *UserDiscoveryEngine) resolveOpenDiscovery(ctx context.Context, query string) *models.HandleResolution {
	question := fmt.Sprintf(
		"¿Quién es %s en Guatemala? Incluye su username de Twitter, profesión, cargo, partido político, institución o relevancia pública.", query)
	info, err := e.web.Search(ctx, question, "guatemala")
	if err != nil || info == "" {
		return nil
	}

	system := fmt.Sprintf(`Analiza esta información y determina si %q es una persona relevante en Guatemala. Busca específicamente su username de Twitter. Responde en JSON:
{"is_person": false, "is_relevant": false, "twitter_username": "", "category": "politico|funcionario|empresario|periodista|activista|otro", "description": "", "confidence": 0.0}`, query)

	var analysis personAnalysis
	err = clients.CompleteJSON(ctx, e.llm, []clients.ChatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: fmt.Sprintf("Información encontrada sobre %s:\n%s", query, info)},
	}, clients.CompleteOptions{Temperature: 0.1, MaxTokens: 300}, &analysis)
	if err != nil {
		e.log.WithError(err).Debug("open discovery analysis failed")
		return nil
	}

	switch {
	case analysis.TwitterUsername != "" && isPlausibleHandle(analysis.TwitterUsername):
		return &models.HandleResolution{
			Query: query, Handle: analysis.TwitterUsername, Name: query,
			Confidence: analysis.Confidence, Method: models.MethodOpenDiscovery,
			Outcome: models.OutcomeResolved, Category: analysis.Category,
			Reasoning: analysis.Description,
		}
	case analysis.IsPerson && analysis.IsRelevant:
		return &models.HandleResolution{
			Query: query, Confidence: 0.3, Method: models.MethodOpenDiscovery,
			Outcome: models.OutcomeRelevantNoData, Category: analysis.Category,
			Reasoning: analysis.Description,
		}
	default:
		return &models.HandleResolution{
			Query: query, Method: models.MethodOpenDiscovery,
			Outcome: models.OutcomeNotRelevant, Reasoning: analysis.Description,
		}
	}
}

// persistAndReturn writes an externally resolved handle back to memory when
// it clears the save threshold, then returns the resolution unchanged.
func (e *UserDiscoveryEngine) persistAndReturn(ctx context.Context, res *models.HandleResolution) *models.HandleResolution {
	if res.Outcome != models.OutcomeResolved || res.FromMemory || res.Confidence < e.saveThreshold {
		return res
	}

	category := res.Category
	if category == "" {
		category = "person"
	}
	saved, err := e.memory.SaveDiscovery(ctx, models.DiscoveredEntity{
		UserName:        res.Query,
		TwitterUsername: res.Handle,
		Description:     fmt.Sprintf("Descubierto vía %s", res.Method),
		Category:        category,
	})
	if err != nil {
		e.log.WithError(err).Warn("discovery write-back failed")
	} else if saved {
		e.log.WithFields(logrus.Fields{"query": res.Query, "handle": res.Handle}).
			Info("discovery persisted to memory")
	}
	return res
}

// extractHandleFromText pulls a plausible handle from profile URLs or
// @mentions in free text.
func extractHandleFromText(text string) string {
	if strings.EqualFold(strings.TrimSpace(text), "NONE") {
		return ""
	}
	for _, re := range []*regexp.Regexp{profileURLRe, handleRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if isPlausibleHandle(m[1]) {
				return m[1]
			}
		}
	}
	return ""
}

// isPlausibleHandle applies the platform's syntactic handle rules
func isPlausibleHandle(handle string) bool {
	if len(handle) < 3 || len(handle) > 15 {
		return false
	}
	if reservedHandles[strings.ToLower(handle)] {
		return false
	}
	for _, r := range handle {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}

// nameSimilarity is the shared-word ratio between two normalized names
func nameSimilarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}
	common := 0
	for _, w := range wordsA {
		if setB[w] {
			common++
		}
	}
	total := len(wordsA)
	if len(wordsB) > total {
		total = len(wordsB)
	}
	return float64(common) / float64(total)
}

// contextWords picks the first n words of 4+ characters from free text
func contextWords(text string, n int) string {
	var picked []string
	for _, w := range tokenize(text) {
		if len([]rune(w)) >= 4 {
			picked = append(picked, w)
		}
		if len(picked) == n {
			break
		}
	}
	return strings.Join(picked, " ")
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
