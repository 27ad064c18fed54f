package httpapi

import (
	"io"
	"strings"

	"github.com/Laisky/errors/v2"
	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"
)

// UpdateModels handles POST /update_models: the caller posts the
// raw HTML of the arena site's page, which embeds the current model
// catalog as a JSON blob somewhere under a variable named initialState.
// We don't parse the page as a DOM; the JSON blob is located by its
// initialState marker and brace/bracket-balanced, then queried with gjson.
func (s *Server) UpdateModels(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		abortWithError(c, errors.Wrap(err, "read update_models body"))
		return
	}

	blob, ok := extractInitialState(string(body))
	if !ok {
		abortWithError(c, errors.New("no initialState JSON found in body"))
		return
	}
	if !gjson.Valid(blob) {
		abortWithError(c, errors.New("initialState blob is not valid JSON"))
		return
	}

	updates := extractCatalogEntries(blob)
	if len(updates) == 0 {
		gmw.GetLogger(c).Warn("update_models found no publicName entries in initialState")
		c.JSON(200, gin.H{"updated": 0})
		return
	}

	if err := s.Deps.Catalog.ReplaceDiff(updates); err != nil {
		abortWithError(c, errors.Wrap(err, "persist catalog diff"))
		return
	}

	gmw.GetLogger(c).Info("updated model catalog", zap.Int("count", len(updates)))
	c.JSON(200, gin.H{"updated": len(updates)})
}

// extractInitialState finds the first JSON object or array value following
// the "initialState" marker in body and returns it brace/bracket-balanced.
func extractInitialState(body string) (string, bool) {
	idx := strings.Index(body, "initialState")
	if idx < 0 {
		return "", false
	}
	rest := body[idx:]
	start := strings.IndexAny(rest, "{[")
	if start < 0 {
		return "", false
	}
	return balancedJSON(rest[start:])
}

// balancedJSON returns the prefix of s that is one balanced JSON value,
// honoring quoted strings so braces/brackets inside them don't confuse the
// depth count.
func balancedJSON(s string) (string, bool) {
	if len(s) == 0 {
		return "", false
	}
	open := s[0]
	if open != '{' && open != '[' {
		return "", false
	}
	closeByte := byte('}')
	if open == '[' {
		closeByte = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case closeByte:
			depth--
			if depth == 0 {
				return s[:i+1], true
			}
		}
	}
	return "", false
}

// extractCatalogEntries walks every object in the blob carrying a
// publicName field and maps it to its upstream "id"; the arena site's
// model descriptors carry both, e.g. {"publicName": "...", "id":
// "f44e280a-..."}.
func extractCatalogEntries(blob string) map[string]string {
	updates := make(map[string]string)

	var walk func(gjson.Result)
	walk = func(v gjson.Result) {
		if v.IsObject() {
			publicName := v.Get("publicName")
			id := v.Get("id")
			if publicName.Exists() && id.Exists() && publicName.String() != "" && id.String() != "" {
				updates[publicName.String()] = id.String()
			}
			v.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
			return
		}
		if v.IsArray() {
			v.ForEach(func(_, child gjson.Result) bool {
				walk(child)
				return true
			})
		}
	}
	walk(gjson.Parse(blob))

	return updates
}
