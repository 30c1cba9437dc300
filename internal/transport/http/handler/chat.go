package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chatrelay/internal/app"
	"chatrelay/internal/store"
	"chatrelay/internal/transport/http/middleware"
	"chatrelay/internal/transport/http/response"
)

const maxImageSize = 5 << 20 // per attached file

type ChatHandler struct {
	chatService *app.ChatService
}

type chatRequest struct {
	Prompt string `json:"prompt"`
}

func NewChatHandler(chatService *app.ChatService) *ChatHandler {
	return &ChatHandler{chatService: chatService}
}

// setupError marks a failure that happened after the prompt parsed but
// before any upstream call could be made, such as an attachment that could
// not be read. Unlike a malformed request, it is recorded as an errored
// turn before the request is rejected.
type setupError struct{ err error }

func (e setupError) Error() string { return e.err.Error() }
func (e setupError) Unwrap() error { return e.err }

// rejectInput translates a parse failure into the client response. Setup
// failures append an errored turn and attempt a save first.
func (h *ChatHandler) rejectInput(c *gin.Context, sess *store.Handle, input app.ChatInput, err error) {
	var setup setupError
	if errors.As(err, &setup) {
		h.chatService.FailSetup(c.Request.Context(), sess, input, setup.err)
		code := response.CodeBadRequest
		if errors.Is(err, app.ErrNoValidImages) {
			code = response.CodeInvalidImages
		}
		response.Error(c, http.StatusBadRequest, code, err.Error())
		return
	}
	response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
}

// Stream relays one prompt as a server-sent event stream: each upstream
// delta becomes a data event, the terminal marker becomes an "event: done"
// carrying the full accumulated text, and failures become a single
// "event: error". The session cookie, if one is due, was already set by the
// resolver before headers are committed here.
func (h *ChatHandler) Stream(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session not resolved")
		return
	}

	input, err := h.parseChatInput(c)
	if err != nil {
		h.rejectInput(c, sess, input, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "stream not supported")
		return
	}

	write := func(payload string) error {
		if _, err := c.Writer.Write([]byte(payload)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	h.chatService.StreamChat(c.Request.Context(), sess, input, app.StreamEvents{
		OnDelta: func(text string) error {
			return write("data: " + sanitizeSSE(text) + "\n\n")
		},
		OnDone: func(full string) error {
			return write("event: done\ndata: " + sanitizeSSE(full) + "\n\n")
		},
		OnError: func(message string) error {
			return write("event: error\ndata: " + sanitizeSSE(message) + "\n\n")
		},
	})
}

// Send is the blocking variant: the full answer in one JSON response. A
// failed save does not discard the answer; it rides along as a warning.
func (h *ChatHandler) Send(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session not resolved")
		return
	}

	input, err := h.parseChatInput(c)
	if err != nil {
		h.rejectInput(c, sess, input, err)
		return
	}

	answer, err := h.chatService.SendChat(c.Request.Context(), sess, input)
	switch {
	case err == nil:
		response.OK(c, gin.H{"response": answer, "session_id": sess.ID})
	case errors.Is(err, app.ErrPromptEmpty):
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
	case errors.Is(err, app.ErrSessionSave):
		response.OK(c, gin.H{
			"response":   answer,
			"session_id": sess.ID,
			"warning":    "your message may not have been saved",
		})
	case errors.Is(err, app.ErrUpstream):
		response.Error(c, http.StatusBadGateway, response.CodeUpstreamFailed, err.Error())
	default:
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "chat failed")
	}
}

// History returns the ordered turn sequence for the resolved session. A
// request with no identity resolves to an empty, unsaved session, so it
// simply sees an empty history.
func (h *ChatHandler) History(c *gin.Context) {
	sess, ok := middleware.SessionFromContext(c)
	if !ok {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "session not resolved")
		return
	}
	response.OK(c, gin.H{
		"session_id": sess.ID,
		"history":    *sess.History,
	})
}

// parseChatInput accepts either a multipart form (prompt plus optional
// image attachments) or a plain JSON body.
func (h *ChatHandler) parseChatInput(c *gin.Context) (app.ChatInput, error) {
	input := app.ChatInput{RequestID: uuid.NewString()}

	contentType := c.GetHeader("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		form, err := c.MultipartForm()
		if err != nil {
			return input, fmt.Errorf("invalid multipart form: %w", err)
		}
		input.Prompt = strings.TrimSpace(c.PostForm("prompt"))
		if input.Prompt == "" {
			return input, app.ErrPromptEmpty
		}

		files := form.File["images"]
		input.AttachedCount = len(files)
		images, err := readImages(files)
		if err != nil {
			return input, setupError{err}
		}
		input.Images = images
		return input, nil
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return input, errors.New("invalid request payload")
	}
	input.Prompt = strings.TrimSpace(req.Prompt)
	if input.Prompt == "" {
		return input, app.ErrPromptEmpty
	}
	return input, nil
}

// readImages loads each attached file fully into memory and keeps only
// image-typed content. Attachments with no surviving images are a setup
// failure for the whole request.
func readImages(files []*multipart.FileHeader) ([][]byte, error) {
	if len(files) == 0 {
		return nil, nil
	}

	var images [][]byte
	for _, fh := range files {
		if fh.Size > maxImageSize {
			continue
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("open attached file %q failed: %w", fh.Filename, err)
		}
		data, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, fmt.Errorf("read attached file %q failed: %w", fh.Filename, err)
		}
		if strings.HasPrefix(http.DetectContentType(data), "image/") {
			images = append(images, data)
		}
	}
	if len(images) == 0 {
		return nil, app.ErrNoValidImages
	}
	return images, nil
}

func sanitizeSSE(input string) string {
	replaced := strings.ReplaceAll(input, "\r\n", "\\n")
	replaced = strings.ReplaceAll(replaced, "\n", "\\n")
	return replaced
}
