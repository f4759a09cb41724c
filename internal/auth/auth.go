package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	adminSubject = "admin"

	// healthMethodPrefix - методы health сервиса доступны без токена
	healthMethodPrefix = "/grpc.health.v1.Health/"
)

// Verifier проверяет административные bearer-токены
type Verifier struct {
	secret []byte
}

func NewVerifier(cfg *Config) *Verifier {
	if cfg == nil || cfg.AdminSecret == "" {
		log.Warn().Str("component", "auth").Msg("ADMIN_SECRET is empty, admin routes are not protected")
		return &Verifier{}
	}
	return &Verifier{secret: []byte(cfg.AdminSecret)}
}

// Enabled сообщает, включена ли проверка токенов
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// VerifyToken достает токен из заголовка Authorization и возвращает subject
func (v *Verifier) VerifyToken(r *http.Request) (string, error) {
	return v.VerifyBearer(r.Header.Get("Authorization"))
}

// VerifyBearer проверяет значение заголовка вида "Bearer <jwt>"
func (v *Verifier) VerifyBearer(authToken string) (string, error) {
	if authToken == "" {
		return "", fmt.Errorf("no authorization header")
	}

	raw, ok := strings.CutPrefix(authToken, "Bearer ")
	if !ok {
		return "", fmt.Errorf("authorization header is not a bearer token")
	}

	token, err := jwt.Parse(raw, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("invalid token subject: %w", err)
	}
	if sub != adminSubject {
		return "", errors.New("token is not an admin token")
	}
	return sub, nil
}

// IssueToken выпускает административный токен
func (v *Verifier) IssueToken(ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", errors.New("admin secret is not configured")
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Middleware пропускает только запросы с валидным административным токеном
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !v.Enabled() {
			next.ServeHTTP(w, r)
			return
		}

		if _, err := v.VerifyToken(r); err != nil {
			log.Warn().Str("component", "auth").Err(err).Str("path", r.URL.Path).Msg("admin request rejected")
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UnaryServerInterceptor требует административный токен в метаданных
// authorization для всех gRPC методов, кроме health
func (v *Verifier) UnaryServerInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if !v.Enabled() || strings.HasPrefix(info.FullMethod, healthMethodPrefix) {
		return handler(ctx, req)
	}

	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if values := md.Get("authorization"); len(values) > 0 {
			header = values[0]
		}
	}
	if _, err := v.VerifyBearer(header); err != nil {
		log.Warn().Str("component", "auth").Err(err).Str("method", info.FullMethod).Msg("admin call rejected")
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return handler(ctx, req)
}
