package tools

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/tool/bingsearch"
	duckduckgo "github.com/cloudwego/eino-ext/components/tool/duckduckgo/v2"
	"github.com/cloudwego/eino-ext/components/tool/googlesearch"
	"github.com/cloudwego/eino/components/tool"

	"github.com/skylattice/orbit/internal/config"
)

const (
	webSearchName    = "web_search"
	webSearchTimeout = 15 * time.Second
	webSearchResults = 10
)

// NewWebSearch creates the web_search tool backed by the configured
// provider. DuckDuckGo needs no credentials and is the default.
func NewWebSearch(ctx context.Context, cfg config.WebSearchConfig) (tool.InvokableTool, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "duckduckgo":
		return duckduckgo.NewTextSearchTool(ctx, &duckduckgo.Config{
			ToolName:   webSearchName,
			ToolDesc:   "Search the web using DuckDuckGo. Returns titles, URLs, and snippets.",
			MaxResults: webSearchResults,
			Timeout:    webSearchTimeout,
		})
	case "google":
		apiKey := resolveSearchKey(cfg.Auth.APIKey, "GOOGLE_API_KEY")
		if apiKey == "" || cfg.CX == "" {
			return nil, fmt.Errorf("google web search requires auth.api_key and cx")
		}
		return googlesearch.NewTool(ctx, &googlesearch.Config{
			APIKey:         apiKey,
			SearchEngineID: cfg.CX,
			Num:            webSearchResults,
			ToolName:       webSearchName,
			ToolDesc:       "Search the web using Google. Returns titles, URLs, and snippets.",
		})
	case "bing":
		apiKey := resolveSearchKey(cfg.Auth.APIKey, "BING_SEARCH_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("bing web search requires auth.api_key")
		}
		return bingsearch.NewTool(ctx, &bingsearch.Config{
			APIKey:     apiKey,
			MaxResults: webSearchResults,
			ToolName:   webSearchName,
			ToolDesc:   "Search the web using Bing. Returns titles, URLs, and descriptions.",
			Timeout:    webSearchTimeout,
		})
	default:
		return nil, fmt.Errorf("unknown web search provider %q (supported: duckduckgo, google, bing)", cfg.Provider)
	}
}

// resolveSearchKey resolves a configured key, supporting the ${VAR} syntax,
// falling back to the named env var.
func resolveSearchKey(configured, envVar string) string {
	key := strings.TrimSpace(configured)
	if key != "" {
		if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
			return os.Getenv(key[2 : len(key)-1])
		}
		return key
	}
	return os.Getenv(envVar)
}
