package v1

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/store"
)

type CreateConversationRequest struct {
	LeadID      int32  `json:"leadId"`
	AssistantID string `json:"assistantId"`
}

type ConversationResponse struct {
	UID         string `json:"uid"`
	LeadID      int32  `json:"leadId"`
	AssistantID string `json:"assistantId"`
	ThreadID    string `json:"threadId,omitempty"`
	CreatedTs   int64  `json:"createdTs"`
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	JobID      string `json:"jobId"`
	MessageUID string `json:"messageUid"`
}

type MessageResponse struct {
	UID         string `json:"uid"`
	Role        string `json:"role"`
	Content     string `json:"content"`
	ReplyToUID  string `json:"replyToUid,omitempty"`
	Synthesized bool   `json:"synthesized,omitempty"`
	CreatedTs   int64  `json:"createdTs"`
}

func (s *APIV1Service) CreateConversation(c echo.Context) error {
	ctx := c.Request().Context()
	request := &CreateConversationRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	if request.LeadID == 0 || request.AssistantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "leadId and assistantId are required")
	}

	conversation, err := s.Store.CreateConversation(ctx, &store.Conversation{
		LeadID:      request.LeadID,
		AssistantID: request.AssistantID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create conversation").SetInternal(err)
	}
	return c.JSON(http.StatusCreated, convertConversation(conversation))
}

func (s *APIV1Service) GetConversation(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	conversation, err := s.Store.GetConversation(ctx, &store.FindConversation{UID: &uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get conversation").SetInternal(err)
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return c.JSON(http.StatusOK, convertConversation(conversation))
}

func (s *APIV1Service) ListConversationMessages(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	conversation, err := s.Store.GetConversation(ctx, &store.FindConversation{UID: &uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get conversation").SetInternal(err)
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	messages, err := s.Store.ListChatMessages(ctx, &store.FindChatMessage{ConversationID: &conversation.ID})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list messages").SetInternal(err)
	}
	response := make([]*MessageResponse, 0, len(messages))
	for _, m := range messages {
		response = append(response, &MessageResponse{
			UID:         m.UID,
			Role:        string(m.Role),
			Content:     m.Content,
			ReplyToUID:  m.ReplyToUID,
			Synthesized: m.Synthesized,
			CreatedTs:   m.CreatedTs,
		})
	}
	return c.JSON(http.StatusOK, response)
}

// PostConversationMessage persists the user turn and enqueues its
// processing job. The remote thread is created lazily on the first
// message of a conversation.
func (s *APIV1Service) PostConversationMessage(c echo.Context) error {
	ctx := c.Request().Context()
	uid := c.Param("uid")
	request := &PostMessageRequest{}
	if err := c.Bind(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request").SetInternal(err)
	}
	if request.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	conversation, err := s.Store.GetConversation(ctx, &store.FindConversation{UID: &uid})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get conversation").SetInternal(err)
	}
	if conversation == nil {
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}

	if conversation.ThreadID == "" {
		threadID, err := s.Engine.CreateThread(ctx)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadGateway, "failed to create engine thread").SetInternal(err)
		}
		now := time.Now().Unix()
		conversation, err = s.Store.UpdateConversation(ctx, &store.UpdateConversation{
			ID:        conversation.ID,
			ThreadID:  &threadID,
			UpdatedTs: &now,
		})
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to bind engine thread").SetInternal(err)
		}
	}

	message, err := s.Store.CreateChatMessage(ctx, &store.ChatMessage{
		ConversationID: conversation.ID,
		Role:           store.MessageRoleUser,
		Content:        request.Content,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to persist message").SetInternal(err)
	}

	job, err := s.Queue.Enqueue(ctx, "", queue.ChatJobData{
		ConversationID: conversation.ID,
		ThreadID:       conversation.ThreadID,
		AssistantID:    conversation.AssistantID,
		Content:        request.Content,
		MessageID:      message.UID,
		LeadID:         conversation.LeadID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to enqueue job").SetInternal(err)
	}

	return c.JSON(http.StatusAccepted, &PostMessageResponse{
		JobID:      job.ID,
		MessageUID: message.UID,
	})
}

func (s *APIV1Service) GetJobStatus(c echo.Context) error {
	ctx := c.Request().Context()
	status, err := s.Queue.Status(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, queue.ErrJobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to get job status").SetInternal(err)
	}
	return c.JSON(http.StatusOK, status)
}

func convertConversation(conversation *store.Conversation) *ConversationResponse {
	return &ConversationResponse{
		UID:         conversation.UID,
		LeadID:      conversation.LeadID,
		AssistantID: conversation.AssistantID,
		ThreadID:    conversation.ThreadID,
		CreatedTs:   conversation.CreatedTs,
	}
}
