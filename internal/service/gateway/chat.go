package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/zhouzirui/realtime-chat/client/internal/model/chat"
)

type historyResponse struct {
	Messages []chat.Message `json:"messages"`
	Count    int            `json:"count"`
}

type onlineResponse struct {
	Users []chat.OnlineUser `json:"users"`
	Count int               `json:"count"`
}

// FetchHistory returns up to limit recent messages, oldest first. limit <= 0
// uses DefaultHistoryLimit.
func (c *Client) FetchHistory(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := url.Values{"limit": []string{strconv.Itoa(limit)}}
	resp, err := c.do(ctx, "fetch history", http.MethodGet, c.endpoint("/api/messages", query), "", "", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &NetworkError{Op: "fetch history", Status: resp.status}
	}

	var out historyResponse
	if err := resp.decode("fetch history", &out); err != nil {
		return nil, err
	}
	if out.Messages == nil {
		out.Messages = []chat.Message{}
	}
	return out.Messages, nil
}

// FetchOnlineUsers returns the current presence snapshot.
func (c *Client) FetchOnlineUsers(ctx context.Context) ([]chat.OnlineUser, error) {
	resp, err := c.do(ctx, "fetch online users", http.MethodGet, c.endpoint("/api/users/online", nil), "", "", nil)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, &NetworkError{Op: "fetch online users", Status: resp.status}
	}

	var out onlineResponse
	if err := resp.decode("fetch online users", &out); err != nil {
		return nil, err
	}
	if out.Users == nil {
		out.Users = []chat.OnlineUser{}
	}
	return out.Users, nil
}
