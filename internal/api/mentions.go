package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/lalithlochan/taskbell/internal/db"
	"github.com/lalithlochan/taskbell/internal/mention"
	"github.com/lalithlochan/taskbell/internal/notify"
)

const mentionConcurrency = 8

// MentionRequest describes one comment. Recipients are the union of
// mentioned_user_ids and the inline mention tags in the comment content.
type MentionRequest struct {
	Actor struct {
		ID        string `json:"id" validate:"required"`
		Name      string `json:"name"`
		Handle    string `json:"handle"`
		AvatarURL string `json:"avatar_url"`
	} `json:"actor"`
	Task struct {
		ID    string `json:"id" validate:"required"`
		Title string `json:"title"`
	} `json:"task"`
	Comment struct {
		ID      string `json:"id" validate:"required"`
		Content string `json:"content"`
	} `json:"comment"`
	MentionedUserIDs []string `json:"mentioned_user_ids"`
}

type MentionFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

type MentionResponse struct {
	Notifications []*db.Notification `json:"notifications"`
	Failed        []MentionFailure   `json:"failed"`
}

// CreateMentions handles POST /v1/mentions
func (h *Handler) CreateMentions(w http.ResponseWriter, r *http.Request) {
	var req MentionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_error", "Invalid mention", err.Error())
		return
	}

	// A non-privileged caller can only mention as itself.
	p := PrincipalFrom(r.Context())
	if p != nil && !h.deps.Auth.Privileged(p) && (p.Kind != db.RecipientUser || p.ID != req.Actor.ID) {
		h.forbidden(w)
		return
	}

	recipients := mention.Recipients(req.Actor.ID, req.MentionedUserIDs, mention.ExtractMentions(req.Comment.Content))
	if len(recipients) == 0 {
		h.writeError(w, http.StatusBadRequest, "validation_error", "No recipients", "nobody other than the author is mentioned")
		return
	}

	m := mention.Build(req.Comment.Content,
		mention.Actor{ID: req.Actor.ID, Name: req.Actor.Name, Handle: req.Actor.Handle, AvatarURL: req.Actor.AvatarURL},
		mention.Target{TaskID: req.Task.ID, TaskTitle: req.Task.Title, CommentID: req.Comment.ID},
		mention.Options{TaskResource: h.deps.TaskResource, MaxPreview: mention.DefaultPreviewLength},
	)

	inputs := make([]notify.CreateInput, 0, len(recipients))
	for _, id := range recipients {
		in, err := m.Input(id)
		if err != nil {
			h.handleError(w, r, err, "Failed to build mention")
			return
		}
		inputs = append(inputs, in)
	}

	resp := MentionResponse{
		Notifications: []*db.Notification{},
		Failed:        []MentionFailure{},
	}
	for _, out := range h.deps.Notifications.CreateEach(r.Context(), inputs, mentionConcurrency) {
		if out.Err != nil {
			resp.Failed = append(resp.Failed, MentionFailure{UserID: out.Input.Recipient.ID, Error: out.Err.Error()})
			continue
		}
		resp.Notifications = append(resp.Notifications, out.Delivery.Notification)
	}

	h.logger.Info("mentions fanned out",
		zap.String("comment_id", req.Comment.ID),
		zap.Int("created", len(resp.Notifications)),
		zap.Int("failed", len(resp.Failed)),
	)
	h.writeJSON(w, http.StatusCreated, resp)
}
