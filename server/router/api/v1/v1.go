// Package v1 is the HTTP façade over the chat pipeline: message
// submission, job status polling, and the operator lock surface.
package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/leadpilot/leadpilot/chat/engine"
	"github.com/leadpilot/leadpilot/chat/lock"
	"github.com/leadpilot/leadpilot/chat/queue"
	"github.com/leadpilot/leadpilot/internal/profile"
	"github.com/leadpilot/leadpilot/server/auth"
	"github.com/leadpilot/leadpilot/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Locker  *lock.ThreadLocker
	Queue   *queue.Queue
	Engine  engine.Engine
	Secret  string
}

func NewAPIV1Service(secret string, profile *profile.Profile, store *store.Store, locker *lock.ThreadLocker, q *queue.Queue, eng engine.Engine) *APIV1Service {
	return &APIV1Service{
		Profile: profile,
		Store:   store,
		Locker:  locker,
		Queue:   q,
		Engine:  eng,
		Secret:  secret,
	}
}

// RegisterRoutes mounts the v1 API on the echo server.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	apiGroup := e.Group("/api/v1")

	apiGroup.POST("/conversations", s.CreateConversation)
	apiGroup.GET("/conversations/:uid", s.GetConversation)
	apiGroup.GET("/conversations/:uid/messages", s.ListConversationMessages)
	apiGroup.POST("/conversations/:uid/messages", s.PostConversationMessage)
	apiGroup.GET("/jobs/:id", s.GetJobStatus)

	adminGroup := apiGroup.Group("/admin", auth.Middleware(s.Secret))
	adminGroup.GET("/threads/:threadID/lock", s.GetThreadLock)
	adminGroup.DELETE("/threads/:threadID/lock", s.ForceClearThreadLock)
}
