package slideapi

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Login obtains and caches a cloud access token from email and password.
// Concurrent callers share a single login request.
type Login struct {
	httpClient *http.Client
	baseURL    string
	email      string
	password   string

	group singleflight.Group
	lock  sync.RWMutex
	token string
}

var _ CredentialProvider = &Login{}

func NewLogin(baseURL, email, password string, timeout time.Duration) *Login {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	return &Login{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		password:   password,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

func (l *Login) Token(ctx context.Context) (string, error) {
	l.lock.RLock()
	token := l.token
	l.lock.RUnlock()
	if token != "" {
		return token, nil
	}

	logrus.Debug("cloud access token missing, logging in")

	v, err, shared := l.group.Do("login", func() (interface{}, error) {
		return l.login(ctx)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logrus.Debug("joined in-flight cloud login")
	}

	return v.(string), nil
}

func (l *Login) Invalidate() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.token = ""
}

func (l *Login) login(ctx context.Context) (string, error) {
	l.lock.RLock()
	token := l.token
	l.lock.RUnlock()
	if token != "" {
		return token, nil
	}

	var resp loginResponse
	url := l.baseURL + "/auth/login"
	if err := do(ctx, l.httpClient, http.MethodPost, url, loginRequest{Email: l.email, Password: l.password}, &resp, nil); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", errors.New("invalid login response: no access token")
	}

	l.lock.Lock()
	l.token = resp.AccessToken
	l.lock.Unlock()

	logrus.Info("logged in to Slide cloud")
	return resp.AccessToken, nil
}
