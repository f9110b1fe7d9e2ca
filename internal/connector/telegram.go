package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strconv"
	"time"

	"github.com/theory/jsonpath"

	"github.com/mihasm/news-globe/internal/record"
)

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *telegramMessage `json:"message"`
}

type telegramMessage struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"` // unix seconds
	Text      string `json:"text"`
	Chat      struct {
		Username string `json:"username"`
		Title    string `json:"title"`
	} `json:"chat"`
	Photo []struct {
		FileID string `json:"file_id"`
	} `json:"photo"`
}

type telegramGetUpdatesResponse struct {
	OK     bool             `json:"ok"`
	Result []telegramUpdate `json:"result"`
}

// Telegram polls a bot's getUpdates long-poll endpoint. The offset
// advances past the highest update_id seen so each call only returns
// new messages, mirroring the Bot API's documented offset semantics.
//
// Structured fields the canonical schema has no place for (Telegram's
// own message "entities" array — bold/url/mention spans with byte
// offsets — plus any other raw field an operator wants surfaced) are
// extracted via configurable JSONPath expressions, same pattern as the
// Mastodon connector.
type Telegram struct {
	httpconnector
	apiBaseURL  string
	offset      int64
	entityPaths map[string]*jsonpath.Path
}

// TelegramConfig configures a Telegram connector.
type TelegramConfig struct {
	BotToken    string
	EntityPaths map[string]string
	Timeout     time.Duration
}

// NewTelegram builds a Telegram connector from cfg.
func NewTelegram(cfg TelegramConfig) *Telegram {
	paths := make(map[string]*jsonpath.Path, len(cfg.EntityPaths))
	for key, expr := range cfg.EntityPaths {
		if p, err := jsonpath.Parse(expr); err == nil {
			paths[key] = p
		}
	}
	return &Telegram{
		httpconnector: newHTTPConnector(string(record.SourceTelegram), map[string]string{
			"bot_token_set": strconv.FormatBool(cfg.BotToken != ""),
		}, cfg.Timeout, 1),
		apiBaseURL:  "https://api.telegram.org/bot" + cfg.BotToken,
		entityPaths: paths,
	}
}

// Fetch polls getUpdates once and yields one record per message.
func (t *Telegram) Fetch(ctx context.Context) iter.Seq2[record.IngestionRecord, error] {
	return func(yield func(record.IngestionRecord, error) bool) {
		url := fmt.Sprintf("%s/getUpdates?offset=%d&timeout=0", t.apiBaseURL, t.offset)
		resp, err := t.get(ctx, url)
		if err != nil {
			yield(record.IngestionRecord{}, err)
			return
		}
		defer resp.Body.Close()

		var parsed telegramGetUpdatesResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			yield(record.IngestionRecord{}, fmt.Errorf("decode telegram response: %w", err))
			return
		}
		if !parsed.OK {
			yield(record.IngestionRecord{}, fmt.Errorf("telegram getUpdates returned ok=false"))
			return
		}

		now := time.Now().Unix()
		for _, upd := range parsed.Result {
			if upd.UpdateID >= t.offset {
				t.offset = upd.UpdateID + 1
			}
			if upd.Message == nil || upd.Message.Text == "" {
				continue
			}

			var mediaURLs []string
			for _, p := range upd.Message.Photo {
				mediaURLs = append(mediaURLs, p.FileID)
			}

			channel := upd.Message.Chat.Username
			if channel == "" {
				channel = upd.Message.Chat.Title
			}

			rec := record.IngestionRecord{
				Source:      record.SourceTelegram,
				SourceID:    fmt.Sprintf("%d:%d", upd.UpdateID, upd.Message.MessageID),
				CollectedAt: now,
				Text:        upd.Message.Text,
				Author:      channel,
				MediaURLs:   mediaURLs,
				PublishedAt: time.Unix(upd.Message.Date, 0).UTC().Format(time.RFC3339),
				Entities:    t.extractEntities(upd),
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (t *Telegram) extractEntities(upd telegramUpdate) map[string]string {
	if len(t.entityPaths) == 0 {
		return nil
	}
	blob, err := json.Marshal(upd)
	if err != nil {
		return nil
	}
	var data any
	if err := json.Unmarshal(blob, &data); err != nil {
		return nil
	}

	out := make(map[string]string, len(t.entityPaths))
	for key, path := range t.entityPaths {
		matches := path.Select(data)
		if len(matches) == 0 {
			continue
		}
		out[key] = fmt.Sprintf("%v", matches[0])
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
