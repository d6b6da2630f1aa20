package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/iyadh-bouzghiba/intelligent-email-assistant-sub000/internal/pkg/httpretry"
)

const gmailAPIBase = "https://gmail.googleapis.com/gmail/v1/users"

// GmailAdapter implements Provider against Gmail's REST API. Grounded on
// other_examples/589d5f57_niraj8-things (historyId-based cursor,
// metadata-header extraction) translated from the google.golang.org/api
// generated client to direct REST calls over internal/pkg/httpretry, so
// the adapter reuses the teacher's own retry/backoff building block
// instead of adding a second HTTP stack.
type GmailAdapter struct {
	client *httpretry.RetryClient
}

// NewGmailAdapter builds a GmailAdapter. doer is typically nil in
// production (a default *http.Client is used); tests inject a fake.
func NewGmailAdapter(doer httpretry.HTTPDoer) *GmailAdapter {
	return &GmailAdapter{client: httpretry.NewRetryClient(doer, 3)}
}

type gmailMessageListResp struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"nextPageToken"`
	HistoryID     string `json:"historyId"`
}

type gmailHistoryListResp struct {
	History []struct {
		MessagesAdded []struct {
			Message struct {
				ID string `json:"id"`
			} `json:"message"`
		} `json:"messagesAdded"`
	} `json:"history"`
	HistoryID     string `json:"historyId"`
	NextPageToken string `json:"nextPageToken"`
}

// ListSince implements Provider. An empty cursor performs a bootstrap
// listing via users.messages.list; a non-empty cursor is treated as a
// Gmail historyId and resolved via users.history.list, matching Gmail's
// own delta-sync contract (spec.md §3 Sync Cursor: "opaque provider-
// defined token — e.g. a history marker").
func (g *GmailAdapter) ListSince(ctx context.Context, accountID, accessToken, cursor string, limit int) (Listing, error) {
	if cursor == "" {
		return g.bootstrapList(ctx, accessToken, limit)
	}
	return g.historyList(ctx, accessToken, cursor, limit)
}

func (g *GmailAdapter) bootstrapList(ctx context.Context, accessToken string, limit int) (Listing, error) {
	q := url.Values{}
	q.Set("maxResults", strconv.Itoa(limit))
	q.Set("labelIds", "INBOX")

	var out gmailMessageListResp
	if err := g.getJSON(ctx, accessToken, "/me/messages?"+q.Encode(), &out); err != nil {
		return Listing{}, err
	}

	ids := make([]string, 0, len(out.Messages))
	for _, m := range out.Messages {
		ids = append(ids, m.ID)
	}
	return Listing{MessageIDs: ids, NextCursor: out.HistoryID}, nil
}

func (g *GmailAdapter) historyList(ctx context.Context, accessToken, cursor string, limit int) (Listing, error) {
	q := url.Values{}
	q.Set("startHistoryId", cursor)
	q.Set("historyTypes", "messageAdded")
	q.Set("maxResults", strconv.Itoa(limit))

	var out gmailHistoryListResp
	if err := g.getJSON(ctx, accessToken, "/me/history?"+q.Encode(), &out); err != nil {
		return Listing{}, err
	}

	var ids []string
	for _, h := range out.History {
		for _, m := range h.MessagesAdded {
			ids = append(ids, m.Message.ID)
			if len(ids) >= limit {
				break
			}
		}
		if len(ids) >= limit {
			break
		}
	}
	next := out.HistoryID
	if next == "" {
		next = cursor
	}
	return Listing{MessageIDs: ids, NextCursor: next}, nil
}

type gmailMessageResp struct {
	Payload struct {
		Headers []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"headers"`
		MimeType string `json:"mimeType"`
		Body     struct {
			Data string `json:"data"`
		} `json:"body"`
		Parts []struct {
			MimeType string `json:"mimeType"`
			Body     struct {
				Data string `json:"data"`
			} `json:"body"`
		} `json:"parts"`
	} `json:"payload"`
	ThreadID     string `json:"threadId"`
	InternalDate string `json:"internalDate"`
}

// FetchMessage implements Provider.
func (g *GmailAdapter) FetchMessage(ctx context.Context, accountID, accessToken, messageID string) (RawMessage, error) {
	var out gmailMessageResp
	if err := g.getJSON(ctx, accessToken, "/me/messages/"+url.PathEscape(messageID)+"?format=full", &out); err != nil {
		return RawMessage{}, err
	}

	msg := RawMessage{ProviderMessageID: messageID, ThreadID: out.ThreadID}
	for _, h := range out.Payload.Headers {
		switch h.Name {
		case "Subject":
			msg.Subject = h.Value
		case "From":
			msg.Sender = h.Value
		case "Date":
			msg.DateHeader = h.Value
		}
	}

	msg.Body = extractBody(out.Payload.Body.Data, out.Payload.MimeType, out.Payload.Parts)

	if ms, err := strconv.ParseInt(out.InternalDate, 10, 64); err == nil && ms > 0 {
		msg.EpochReceivedAt = time.UnixMilli(ms).UTC()
		msg.HasEpoch = true
	}
	return msg, nil
}

func extractBody(topLevelData, mimeType string, parts []struct {
	MimeType string `json:"mimeType"`
	Body     struct {
		Data string `json:"data"`
	} `json:"body"`
}) string {
	if topLevelData != "" {
		return decodeBase64URL(topLevelData)
	}
	for _, p := range parts {
		if p.MimeType == "text/html" && p.Body.Data != "" {
			return decodeBase64URL(p.Body.Data)
		}
	}
	for _, p := range parts {
		if p.MimeType == "text/plain" && p.Body.Data != "" {
			return decodeBase64URL(p.Body.Data)
		}
	}
	return ""
}

func decodeBase64URL(s string) string {
	b, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(s)
	if err != nil {
		return ""
	}
	return string(b)
}

func (g *GmailAdapter) getJSON(ctx context.Context, accessToken, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gmailAPIBase+path, nil)
	if err != nil {
		return fmt.Errorf("gmail: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("gmail: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("gmail: auth error %d on %s: %w", resp.StatusCode, path, ErrAuth)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("gmail: %s returned %d: %s", path, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("gmail: decode %s: %w", path, err)
	}
	return nil
}
