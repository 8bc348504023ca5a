package web

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocrud/beans/di"
	"github.com/gocrud/beans/logging"
	"go.uber.org/multierr"
)

// RequestScope 为每个请求创建 request 作用域，请求结束后逆序销毁其中的对象
func RequestScope(container *di.Container, logger logging.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(c *gin.Context) {
		attrs := di.NewAttributes(di.ScopeRequest)
		c.Request = c.Request.WithContext(di.WithScopeContext(c.Request.Context(), di.ScopeRequest, attrs))
		defer func() {
			if err := container.CompleteScope(attrs); err != nil {
				logger.Error("request scope disposal failed",
					logging.Field{Key: "path", Value: c.FullPath()},
					logging.Err(err))
			}
		}()
		c.Next()
	}
}

type session struct {
	attrs    *di.Attributes
	lastSeen time.Time
}

// SessionStore 保存 session 作用域的上下文，按 id 查找
type SessionStore struct {
	container *di.Container
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessionStore 创建会话存储，会话结束时通过 container 通知监听器
func NewSessionStore(container *di.Container) *SessionStore {
	return &SessionStore{
		container: container,
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
}

// Acquire 返回 id 对应的会话上下文，不存在时新建并返回新 id
func (s *SessionStore) Acquire(id string) (string, *di.Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok && id != "" {
		sess.lastSeen = s.now()
		return id, sess.attrs
	}
	id = newSessionID()
	sess := &session{attrs: di.NewAttributes(di.ScopeSession), lastSeen: s.now()}
	s.sessions[id] = sess
	return id, sess.attrs
}

// Invalidate 立即结束会话，未知 id 直接忽略
func (s *SessionStore) Invalidate(id string) error {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return s.container.CompleteScope(sess.attrs)
}

// Sweep 结束空闲超过 maxIdle 的会话，返回结束的数量
func (s *SessionStore) Sweep(maxIdle time.Duration) (int, error) {
	deadline := s.now().Add(-maxIdle)

	s.mu.Lock()
	var expired []*session
	for id, sess := range s.sessions {
		if sess.lastSeen.Before(deadline) {
			expired = append(expired, sess)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	var errs error
	for _, sess := range expired {
		errs = multierr.Append(errs, s.container.CompleteScope(sess.attrs))
	}
	return len(expired), errs
}

// Close 结束全部会话
func (s *SessionStore) Close() error {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	var errs error
	for _, sess := range all {
		errs = multierr.Append(errs, s.container.CompleteScope(sess.attrs))
	}
	return errs
}

// Len 当前会话数
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func newSessionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// SessionScope 通过 options.SessionCookie 识别会话，把会话上下文附加到请求上
func SessionScope(store *SessionStore, options Options) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, _ := c.Cookie(options.SessionCookie)
		newID, attrs := store.Acquire(id)
		if newID != id {
			c.SetSameSite(http.SameSiteLaxMode)
			c.SetCookie(options.SessionCookie, newID, 0, "/", "", options.SessionSecure, true)
		}
		c.Request = c.Request.WithContext(di.WithScopeContext(c.Request.Context(), di.ScopeSession, attrs))
		c.Next()
	}
}

// Bean 在当前请求的上下文中解析 bean，request/session 作用域的 bean 随之生效
func Bean[T any](c *gin.Context, container *di.Container, name string) (T, error) {
	return di.Resolve[T](c.Request.Context(), container, name)
}
