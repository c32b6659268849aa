package chat

import (
	"context"
	"errors"
	"log"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dogwood/dashboard-client/internal/config"
	"github.com/dogwood/dashboard-client/internal/model/chat"
	chatService "github.com/dogwood/dashboard-client/internal/service/chat"
	"github.com/dogwood/dashboard-client/pkg/utils"
)

const maxUploadBytes = 32 << 20

// Handler 聊天视图的HTTP处理器
type Handler struct {
	chatSvc  *chatService.Service
	conv     *chatService.Conversation
	cfg      config.ChatConfig
	upgrader websocket.Upgrader
}

// New 创建聊天处理器
func New(chatSvc *chatService.Service, conv *chatService.Conversation, cfg config.ChatConfig) *Handler {
	return &Handler{
		chatSvc: chatSvc,
		conv:    conv,
		cfg:     cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Get("/messages", h.handleList)
		r.Delete("/messages", h.handleClear)
		r.Post("/messages", h.handleSend)
		r.Get("/ws", h.handleWebSocket)
	})
}

type conversationView struct {
	Messages     []chat.Message `json:"messages"`
	Streaming    bool           `json:"streaming"`
	Models       []string       `json:"models"`
	DefaultModel string         `json:"defaultModel"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, conversationView{
		Messages:     h.conv.Messages(),
		Streaming:    h.conv.Streaming(),
		Models:       h.cfg.Models,
		DefaultModel: h.cfg.DefaultModel,
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := h.conv.Clear(); err != nil {
		utils.RespondError(w, http.StatusConflict, "cannot clear while a reply is streaming")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSend 接收 multipart 表单，并以 SSE 推送本次对话的事件
func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	model, ok := h.resolveModel(r.FormValue("model"))
	if !ok {
		utils.RespondError(w, http.StatusBadRequest, "unsupported model")
		return
	}

	attachments, closeAll, err := openAttachments(r.MultipartForm.File["files"])
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "unreadable attachment")
		return
	}
	defer closeAll()

	events, cancel := h.conv.Subscribe(256)
	defer cancel()

	// The reply keeps streaming into the conversation even if this client goes away.
	ex, err := h.chatSvc.Start(context.WithoutCancel(r.Context()), h.conv, model, r.FormValue("prompt"), attachments)
	switch {
	case errors.Is(err, chatService.ErrEmptyMessage):
		utils.RespondError(w, http.StatusBadRequest, "message needs text or attachments")
		return
	case errors.Is(err, chatService.ErrStreamInFlight):
		utils.RespondError(w, http.StatusConflict, "a reply is already streaming")
		return
	case err != nil:
		utils.RespondError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	streamExchange(r.Context(), w, flusher, events, ex)

	// Attachments are closed by the deferred closeAll only after the transport is done
	// reading them.
	_ = ex.Wait()
}

// streamExchange forwards this exchange's events, starting at its user message and
// ending at the terminal complete or failed event.
func streamExchange(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, events <-chan chatService.Event, ex *chatService.Exchange) {
	started := false
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Printf("[chat] sse subscriber fell behind, reply=%s", ex.ReplyID)
				return
			}
			if !started {
				if ev.Type != chatService.EventUserMessage || ev.MessageID != ex.UserMessageID {
					continue
				}
				started = true
			}
			if err := utils.SendSSEEvent(w, flusher, string(ev.Type), ev); err != nil {
				return
			}
			if ev.Type == chatService.EventComplete || ev.Type == chatService.EventFailed {
				return
			}
		}
	}
}

func (h *Handler) resolveModel(requested string) (string, bool) {
	requested = strings.ToLower(strings.TrimSpace(requested))
	if requested == "" {
		return h.cfg.DefaultModel, true
	}
	return requested, h.cfg.AllowsModel(requested)
}

func openAttachments(headers []*multipart.FileHeader) ([]chatService.Attachment, func(), error) {
	var files []multipart.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	attachments := make([]chatService.Attachment, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		files = append(files, f)
		attachments = append(attachments, chatService.Attachment{Name: fh.Filename, Reader: f})
	}
	return attachments, closeAll, nil
}
