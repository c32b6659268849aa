package session

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	model "github.com/dogwood/dashboard-client/internal/model/session"
	"github.com/dogwood/dashboard-client/internal/service/auth"
	"github.com/dogwood/dashboard-client/internal/service/gate"
	"github.com/dogwood/dashboard-client/pkg/utils"
)

// Handler 登录、注册与会话查询的HTTP处理器
type Handler struct {
	authSvc *auth.Service
}

// New 创建会话处理器
func New(authSvc *auth.Service) *Handler {
	return &Handler{authSvc: authSvc}
}

// RegisterRoutes 注册 /session 下的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.handleCurrent)
		r.Post("/login", h.handleLogin)
		r.Post("/register", h.handleRegister)
		r.Post("/identity", h.handleIdentity)
		r.Post("/logout", h.handleLogout)
	})
}

type sessionView struct {
	Authenticated bool           `json:"authenticated"`
	SessionID     string         `json:"sessionId,omitempty"`
	User          *model.Profile `json:"user,omitempty"`
	Redirect      string         `json:"redirect,omitempty"`
}

type loginView struct {
	From          string `json:"from"`
	Authenticated bool   `json:"authenticated"`
}

// HandleLoginPage 返回登录页视图模型，from 参数经过同源校验
func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	from := gate.SafeReturnPath(r.URL.Query().Get("from"))
	_, ok := h.authSvc.Current()
	utils.RespondJSON(w, http.StatusOK, loginView{From: from, Authenticated: ok})
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.authSvc.Current()
	if !ok {
		utils.RespondJSON(w, http.StatusOK, sessionView{})
		return
	}
	utils.RespondJSON(w, http.StatusOK, viewOf(sess))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		From     string `json:"from"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.authSvc.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, signedIn(sess, payload.From))
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
		From     string `json:"from"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.authSvc.Register(r.Context(), auth.Registration{
		Username: payload.Username,
		Email:    payload.Email,
		Password: payload.Password,
	})
	if err != nil {
		respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, signedIn(sess, payload.From))
}

func (h *Handler) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ProviderToken string `json:"providerToken"`
		From          string `json:"from"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sess, err := h.authSvc.ExchangeIdentityToken(r.Context(), payload.ProviderToken)
	if err != nil {
		respondAuthError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, signedIn(sess, payload.From))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.authSvc.Logout(); err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	utils.RespondJSON(w, http.StatusOK, sessionView{Redirect: gate.LoginPath})
}

// viewOf never exposes the token; the shell attaches it server side.
func viewOf(sess model.Session) sessionView {
	return sessionView{Authenticated: true, SessionID: sess.SessionID, User: sess.IssuedTo}
}

func signedIn(sess model.Session, from string) sessionView {
	view := viewOf(sess)
	view.Redirect = gate.SafeReturnPath(from)
	return view
}

// respondAuthError 将认证失败映射为页面内联错误
func respondAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrSuperseded) {
		utils.RespondError(w, http.StatusConflict, "a newer sign-in has already completed")
		return
	}

	var f *auth.Failure
	if !errors.As(err, &f) {
		utils.RespondError(w, http.StatusInternalServerError, "unexpected error")
		return
	}

	body := map[string]string{"error": f.Reason.String(), "message": failureMessage(f)}
	if f.Field != "" {
		body["field"] = f.Field
	}

	status := http.StatusBadGateway
	switch f.Reason {
	case auth.ValidationError:
		status = http.StatusBadRequest
	case auth.InvalidCredentials:
		status = http.StatusUnauthorized
	case auth.NetworkUnavailable:
		status = http.StatusServiceUnavailable
	}
	utils.RespondJSON(w, status, body)
}

func failureMessage(f *auth.Failure) string {
	switch f.Reason {
	case auth.ValidationError:
		if f.Message != "" {
			return f.Message
		}
		return "please check the highlighted field"
	case auth.InvalidCredentials:
		return "invalid email or password"
	case auth.NetworkUnavailable:
		return "cannot reach the server, please try again"
	default:
		if f.Message != "" {
			return f.Message
		}
		return "the server could not complete the request"
	}
}
