package backend

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/diggerhq/digger/statebackend/internal/lock"
	"github.com/diggerhq/digger/statebackend/internal/logging"
	"github.com/diggerhq/digger/statebackend/internal/metrics"
	"github.com/diggerhq/digger/statebackend/internal/state"
)

// Handler implements Terraform HTTP backend protocol
type Handler struct {
	routes       routeTable
	states       *state.Store
	locks        *lock.Coordinator
	metrics      metrics.Recorder
	maxBodyBytes int64
}

// errBodyTooLarge is matched to answer 413.
var errBodyTooLarge = errors.New("request body too large")

// Dispatch resolves the operation from the route table and runs it.
func (h *Handler) Dispatch(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	op, statePath, ok := h.routes.match(c.Request.Method, path)
	if !ok {
		h.NotFound(c)
		return
	}

	start := time.Now()
	c.Header("Cache-Control", "no-store")
	log := logging.FromContext(c).With("operation", string(op), "path", statePath)

	var result metrics.ResultLabel
	switch op {
	case OpRead:
		result = h.read(c, statePath)
	case OpWrite:
		result = h.withBody(c, func(body []byte) metrics.ResultLabel { return h.write(c, statePath, body) })
	case OpDelete:
		result = h.delete(c, statePath)
	case OpLock:
		result = h.withBody(c, func(body []byte) metrics.ResultLabel { return h.lock(c, statePath, body) })
	case OpUnlock:
		result = h.withBody(c, func(body []byte) metrics.ResultLabel { return h.unlock(c, statePath, body) })
	}

	if result == metrics.ResultError {
		log.Error("Operation failed", "error", c.Errors.Last())
	} else {
		log.Debug("Operation completed", "result", string(result))
	}
	h.metrics.ObserveOperation(string(op), result, time.Since(start))
}

// NotFound answers every method/path combination the route table does not know.
func (h *Handler) NotFound(c *gin.Context) {
	h.metrics.ObserveOperation(string(OpUnmatched), metrics.ResultNotFound, 0)
	c.String(http.StatusNotFound, "Nothing found at %s", c.Request.URL.EscapedPath())
}

func (h *Handler) withBody(c *gin.Context, next func(body []byte) metrics.ResultLabel) metrics.ResultLabel {
	body, err := h.readBody(c)
	if errors.Is(err, errBodyTooLarge) {
		c.String(http.StatusRequestEntityTooLarge, "Request body exceeds %d bytes", h.maxBodyBytes)
		return metrics.ResultRejected
	}
	if err != nil {
		return h.fail(c, fmt.Errorf("read request body: %w", err))
	}
	return next(body)
}

func (h *Handler) readBody(c *gin.Context) ([]byte, error) {
	r := io.Reader(c.Request.Body)
	if h.maxBodyBytes > 0 {
		r = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	body, err := io.ReadAll(r)
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return nil, errBodyTooLarge
	}
	return body, err
}

func (h *Handler) read(c *gin.Context, path string) metrics.ResultLabel {
	data, err := h.states.Read(c.Request.Context(), path)
	if errors.Is(err, state.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return metrics.ResultNotFound
	}
	if err != nil {
		return h.fail(c, err)
	}
	c.Data(http.StatusOK, "application/json", data)
	return metrics.ResultSuccess
}

func (h *Handler) write(c *gin.Context, path string, body []byte) metrics.ResultLabel {
	if err := h.states.Write(c.Request.Context(), path, body); err != nil {
		return h.fail(c, err)
	}
	c.Data(http.StatusOK, "application/json", body)
	return metrics.ResultSuccess
}

func (h *Handler) delete(c *gin.Context, path string) metrics.ResultLabel {
	if err := h.states.Delete(c.Request.Context(), path); err != nil {
		return h.fail(c, err)
	}
	c.Status(http.StatusOK)
	return metrics.ResultSuccess
}

func (h *Handler) lock(c *gin.Context, path string, body []byte) metrics.ResultLabel {
	record, err := h.locks.Acquire(c.Request.Context(), path, body)
	if errors.Is(err, lock.ErrLockConflict) {
		logging.FromContext(c).Info("Lock conflict", "path", path)
		c.Data(http.StatusLocked, "application/json", record)
		return metrics.ResultConflict
	}
	if err != nil {
		return h.fail(c, err)
	}
	c.Data(http.StatusOK, "application/json", record)
	return metrics.ResultSuccess
}

func (h *Handler) unlock(c *gin.Context, path string, body []byte) metrics.ResultLabel {
	if err := h.locks.Release(c.Request.Context(), path, body); err != nil {
		return h.fail(c, err)
	}
	c.Status(http.StatusOK)
	return metrics.ResultSuccess
}

// fail answers 500 with the error text. The backend is operator-facing, so
// the full error chain is returned.
func (h *Handler) fail(c *gin.Context, err error) metrics.ResultLabel {
	_ = c.Error(err)
	c.String(http.StatusInternalServerError, "%s", err.Error())
	return metrics.ResultError
}
