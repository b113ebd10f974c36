package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/eachlabs/opschat/internal/channel"
)

// Project is the metadata the header needs about a project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// PostMessage is the body of a new message or thread reply.
type PostMessage struct {
	ChannelType channel.Type         `json:"channel_type,omitempty"`
	ChannelID   string               `json:"channel_id,omitempty"`
	ProjectID   string               `json:"project_id,omitempty"`
	UserID      string               `json:"user_id"`
	Content     string               `json:"content"`
	Attachments []channel.Attachment `json:"attachments,omitempty"`
	Metadata    map[string]any       `json:"metadata,omitempty"`
}

// NewPostMessage builds the request for posting content to key.
func NewPostMessage(key channel.Key, userID, content string) PostMessage {
	p := PostMessage{ChannelType: key.Type, UserID: userID, Content: content}
	if key.Type.ProjectScoped() {
		p.ProjectID = key.ID
	} else {
		p.ChannelID = key.ID
	}
	return p
}

type channelsResponse struct {
	Channels []channel.Channel `json:"channels"`
}

type messagesResponse struct {
	Messages []*channel.Message `json:"messages"`
}

type messageResponse struct {
	Message *channel.Message `json:"message"`
}

type projectsResponse struct {
	Projects []Project `json:"projects"`
}

// ListChannels returns the channels visible to the user.
func (c *Client) ListChannels(ctx context.Context) ([]channel.Channel, error) {
	var resp channelsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/channels", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Channels, nil
}

// ListProjects returns the projects visible to the user.
func (c *Client) ListProjects(ctx context.Context) ([]Project, error) {
	var resp projectsResponse
	if err := c.doJSON(ctx, http.MethodGet, "/projects", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Projects, nil
}

// ListMessages returns the latest limit messages of key, oldest first.
func (c *Client) ListMessages(ctx context.Context, key channel.Key, limit int) ([]*channel.Message, error) {
	q := url.Values{}
	q.Set("channel_type", string(key.Type))
	if key.Type.ProjectScoped() {
		q.Set("project_id", key.ID)
	} else {
		q.Set("channel_id", key.ID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp messagesResponse
	if err := c.doJSON(ctx, http.MethodGet, "/messages", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", key, err)
	}
	return resp.Messages, nil
}

// PostMessage creates a message and returns the server copy.
func (c *Client) PostMessage(ctx context.Context, msg PostMessage) (*channel.Message, error) {
	var resp messageResponse
	if err := c.doJSON(ctx, http.MethodPost, "/messages", nil, msg, &resp); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	return resp.Message, nil
}

// ToggleReaction flips the user's emoji reaction on a message and returns the
// updated message.
func (c *Client) ToggleReaction(ctx context.Context, messageID, emoji, userID string) (*channel.Message, error) {
	body := map[string]string{"emoji": emoji, "user_id": userID}
	var resp messageResponse
	path := "/messages/" + url.PathEscape(messageID) + "/reactions"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("react to %s: %w", messageID, err)
	}
	return resp.Message, nil
}

// ListThread returns the replies under a root message.
func (c *Client) ListThread(ctx context.Context, rootID string) ([]*channel.Message, error) {
	var resp messagesResponse
	path := "/messages/" + url.PathEscape(rootID) + "/thread"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("list thread %s: %w", rootID, err)
	}
	return resp.Messages, nil
}

// PostThreadReply posts a reply under a root message.
func (c *Client) PostThreadReply(ctx context.Context, rootID, userID, content string) (*channel.Message, error) {
	body := PostMessage{UserID: userID, Content: content}
	var resp messageResponse
	path := "/messages/" + url.PathEscape(rootID) + "/thread"
	if err := c.doJSON(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return nil, fmt.Errorf("reply to %s: %w", rootID, err)
	}
	return resp.Message, nil
}
