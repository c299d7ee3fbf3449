package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"riskguard/pkg/crypto"
	"riskguard/pkg/utils"
)

// Authenticator проверяет Bearer токен дашборда против bcrypt-хеша из конфига
//
// bcrypt дорогой, поэтому после первой успешной проверки запоминается
// sha256 токена и дальнейшие запросы сравниваются за постоянное время.
// При пустом хеше аутентификация выключена (локальное развертывание).
type Authenticator struct {
	tokenHash string
	logger    *utils.Logger

	mu       sync.RWMutex
	verified [][sha256.Size]byte
}

// maxVerifiedTokens сколько разных токенов держим в кеше
const maxVerifiedTokens = 8

// NewAuthenticator создает проверку токена
func NewAuthenticator(tokenHash string, logger *utils.Logger) *Authenticator {
	if logger == nil {
		logger = utils.L()
	}
	return &Authenticator{
		tokenHash: tokenHash,
		logger:    logger.WithComponent("auth"),
	}
}

// Enabled включена ли проверка
func (a *Authenticator) Enabled() bool {
	return a.tokenHash != ""
}

// Middleware - middleware для аутентификации запросов
//
// Токен берется из заголовка Authorization: Bearer <token>.
// Для WebSocket (браузер не умеет ставить заголовки) допускается ?token=.
// Без токена или с неверным токеном - 401.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token := extractToken(r)
		if token == "" {
			unauthorized(w, "missing bearer token")
			return
		}

		if !a.check(token) {
			a.logger.Warn("rejected api token",
				utils.String("path", r.URL.Path),
				utils.String("remote_addr", r.RemoteAddr),
			)
			unauthorized(w, "invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) check(token string) bool {
	digest := sha256.Sum256([]byte(token))

	a.mu.RLock()
	for i := range a.verified {
		if subtle.ConstantTimeCompare(a.verified[i][:], digest[:]) == 1 {
			a.mu.RUnlock()
			return true
		}
	}
	a.mu.RUnlock()

	if err := crypto.VerifyToken(token, a.tokenHash); err != nil {
		return false
	}

	a.mu.Lock()
	if len(a.verified) >= maxVerifiedTokens {
		a.verified = a.verified[1:]
	}
	a.verified = append(a.verified, digest)
	a.mu.Unlock()
	return true
}

func extractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		const prefix = "Bearer "
		if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
			return strings.TrimSpace(header[len(prefix):])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="riskguard"`)
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `","code":"UNAUTHORIZED"}`))
}
