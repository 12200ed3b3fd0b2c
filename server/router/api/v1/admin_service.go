package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type ThreadLockResponse struct {
	ThreadID   string `json:"threadId"`
	Locked     bool   `json:"locked"`
	TTLSeconds int64  `json:"ttlSeconds"`
	ActiveRun  string `json:"activeRun,omitempty"`
}

// GetThreadLock reports lock state for a thread. TTLSeconds is -1 when
// no lock is held.
func (s *APIV1Service) GetThreadLock(c echo.Context) error {
	ctx := c.Request().Context()
	threadID := c.Param("threadID")

	locked, err := s.Locker.IsLocked(ctx, threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read lock state").SetInternal(err)
	}
	ttl, err := s.Locker.TTL(ctx, threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read lock ttl").SetInternal(err)
	}
	activeRun, err := s.Locker.ActiveRun(ctx, threadID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read active run").SetInternal(err)
	}

	ttlSeconds := int64(-1)
	if ttl > 0 {
		ttlSeconds = int64(ttl.Seconds())
	}
	return c.JSON(http.StatusOK, &ThreadLockResponse{
		ThreadID:   threadID,
		Locked:     locked,
		TTLSeconds: ttlSeconds,
		ActiveRun:  activeRun,
	})
}

// ForceClearThreadLock unconditionally clears a thread's lock and
// active-run marker. Operator recovery for a stuck thread.
func (s *APIV1Service) ForceClearThreadLock(c echo.Context) error {
	ctx := c.Request().Context()
	if err := s.Locker.ForceClear(ctx, c.Param("threadID")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to clear lock").SetInternal(err)
	}
	return c.NoContent(http.StatusNoContent)
}
