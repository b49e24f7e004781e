// Package correlate extracts image metadata (prompt, creation time) from the
// three Grok responses that mention media ids, and stores it in the run
// state until the matching image is archived.
package correlate

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hazyhaar/grokarchiver/archiver/internal/grok"
	"github.com/hazyhaar/grokarchiver/archiver/internal/jsonsplit"
	"github.com/hazyhaar/grokarchiver/archiver/internal/state"
)

// UnknownPrompt is stored when a history message does not have the expected
// shape.
const UnknownPrompt = "unknown"

// Completion stream field paths, relative to each block.
const (
	pathQuery         = "result.query"
	pathPendingID     = "result.imageAttachmentUpdate.mediaId"
	pathCompletedID   = "result.imageAttachment.mediaId"
	pathExpectedCount = "result.imageGenerationCount"
)

// GraphQL document paths.
const (
	pathConversationItems = "data.grok_conversation_items_by_rest_id.items"
	pathMediaHistoryItems = "data.grok_media_history.items"
)

// Correlator feeds metadata into a State.
type Correlator struct {
	state  *state.State
	now    func() time.Time
	logger *slog.Logger
}

// Config configures a Correlator.
type Config struct {
	State  *state.State
	Now    func() time.Time
	Logger *slog.Logger
}

// New creates a Correlator.
func New(cfg Config) *Correlator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Correlator{state: cfg.State, now: cfg.Now, logger: cfg.Logger}
}

// CompletionResult summarises one completion stream body.
type CompletionResult struct {
	Prompt   string
	Stored   []string
	Pending  []string
	Expected int
}

// Completion processes a completion stream body. A query sets the prompt for
// every image completed after it; ids announced as pending but never
// completed are stored anyway with the last prompt seen.
func (c *Correlator) Completion(body string) (CompletionResult, error) {
	blocks, err := jsonsplit.Split(body)
	if err != nil {
		return CompletionResult{}, fmt.Errorf("correlate: completion: %w", err)
	}

	var (
		res     CompletionResult
		pending []string
		stored  = make(map[string]bool)
	)
	isPending := make(map[string]bool)

	for _, b := range blocks {
		if q := b.Get(pathQuery).String(); q != "" {
			res.Prompt = q
		}
		if n := b.Get(pathExpectedCount); n.Exists() {
			res.Expected = int(n.Int())
		}
		if id := b.Get(pathPendingID).String(); id != "" && !stored[id] && !isPending[id] {
			isPending[id] = true
			pending = append(pending, id)
		}
		if id := b.Get(pathCompletedID).String(); id != "" {
			c.state.Put(state.Metadata{ID: id, Prompt: res.Prompt, CreatedAt: c.now()})
			if !stored[id] {
				stored[id] = true
				res.Stored = append(res.Stored, id)
			}
			delete(isPending, id)
			c.logger.Debug("correlate: prompt for image", "id", id, "prompt", res.Prompt)
		}
	}

	for _, id := range pending {
		if !isPending[id] {
			continue
		}
		c.state.Put(state.Metadata{ID: id, Prompt: res.Prompt, CreatedAt: c.now()})
		stored[id] = true
		res.Stored = append(res.Stored, id)
		res.Pending = append(res.Pending, id)
		c.logger.Warn("correlate: image never completed in stream, stored anyway",
			"id", id, "prompt", res.Prompt,
			"hint", "if the image does not show up in the archive, open it in the browser once so it is downloaded")
	}

	if res.Expected > 0 && len(res.Stored) != res.Expected {
		c.logger.Warn("correlate: image generation incomplete",
			"expected", res.Expected, "got", len(res.Stored), "prompt", res.Prompt)
	}
	return res, nil
}

// Conversation processes a conversation history document. Each message with
// media URLs yields one metadata entry per URL, timestamped with the message.
// It returns the ids stored.
func (c *Correlator) Conversation(body string) ([]string, error) {
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("correlate: conversation: invalid JSON")
	}
	var ids []string
	gjson.Get(body, pathConversationItems).ForEach(func(_, item gjson.Result) bool {
		urls := item.Get("media_urls")
		if !urls.IsArray() {
			return true
		}
		prompt := ExtractPrompt(item.Get("message").String())
		createdAt := createdAtMillis(item)
		urls.ForEach(func(_, u gjson.Result) bool {
			id := mediaIDFromURL(u.String())
			if id == "" || !c.state.PutUnlessBusy(state.Metadata{ID: id, Prompt: prompt, CreatedAt: createdAt}) {
				return true
			}
			ids = append(ids, id)
			c.logger.Debug("correlate: found in history", "id", id, "prompt", prompt)
			return true
		})
		return true
	})
	return ids, nil
}

// MediaHistory processes a media history document, which lists ids and
// creation times but no prompts. It returns the ids stored.
func (c *Correlator) MediaHistory(body string) ([]string, error) {
	if !gjson.Valid(body) {
		return nil, fmt.Errorf("correlate: media history: invalid JSON")
	}
	var ids []string
	gjson.Get(body, pathMediaHistoryItems).ForEach(func(_, item gjson.Result) bool {
		id := item.Get("media_id").String()
		if id == "" || !c.state.PutUnlessBusy(state.Metadata{ID: id, CreatedAt: createdAtMillis(item)}) {
			return true
		}
		ids = append(ids, id)
		return true
	})
	return ids, nil
}

// createdAtMillis returns the zero time when created_at_ms is missing or not
// positive, so the writer falls back to the archive time.
func createdAtMillis(item gjson.Result) time.Time {
	ms := item.Get("created_at_ms").Int()
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// ExtractPrompt pulls the quoted prompt out of a history message such as
//
//	I generated an image with the prompt: 'a red fox'.
//
// and returns UnknownPrompt when the message does not look like that.
func ExtractPrompt(message string) string {
	const marker = "prompt:"
	i := strings.Index(message, marker)
	if i < 0 {
		return UnknownPrompt
	}
	rest := strings.TrimSpace(message[i+len(marker):])
	rest = strings.TrimSuffix(rest, ".")
	if len(rest) < 2 {
		return UnknownPrompt
	}
	q := rest[0]
	if (q != '\'' && q != '"') || rest[len(rest)-1] != q {
		return UnknownPrompt
	}
	prompt := rest[1 : len(rest)-1]
	if prompt == "" {
		return UnknownPrompt
	}
	return prompt
}

func mediaIDFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Query().Get(grok.MediaIDParam)
}
