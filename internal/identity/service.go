package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/hitoshi/faucetgate/internal/model"
)

// 連携フロー中の一時資格情報のCookie名。
// link_protocolは開始時に明示的に書き込まれ、コールバックの
// ディスパッチはこのタグのみで行う。
const (
	CredState       = "link_state"
	CredVerifier    = "link_verifier"
	CredToken       = "link_token"
	CredTokenSecret = "link_secret"
	CredProtocol    = "link_protocol"
)

// 一時資格情報の有効期間（秒）。連携の往復に十分な長さに留める。
const transientCredMaxAge = 600

// CallbackInput はコールバック処理への入力をまとめた構造体。
// Storedプレフィックスのフィールドは開始時に発行した一時資格情報。
type CallbackInput struct {
	Protocol model.LinkProtocol

	// OAuth 2.0
	Code  string
	State string

	// OAuth 1.0a
	OAuthToken    string
	OAuthVerifier string

	// 開始時に発行した一時資格情報
	StoredState    string
	StoredVerifier string
	StoredToken    string
	StoredSecret   string
}

// Service はアカウント連携のビジネスロジックを提供する。
type Service struct {
	pkce   PKCEProvider
	legacy LegacyProvider
	salt   string
}

// NewService はServiceを生成する。
// legacyはOAuth 1.0aのconsumer credentialが未設定の場合nilでよい。
func NewService(pkce PKCEProvider, legacy LegacyProvider, salt string) *Service {
	return &Service{
		pkce:   pkce,
		legacy: legacy,
		salt:   salt,
	}
}

// StartLink は連携フローを開始し、リダイレクト先と一時資格情報を返す。
// プロトコルは呼び出し側が明示的に指定する。
func (s *Service) StartLink(ctx context.Context, protocol model.LinkProtocol) (*model.LinkStart, error) {
	switch protocol {
	case model.ProtocolOAuth2:
		return s.startOAuth2()
	case model.ProtocolOAuth1:
		return s.startOAuth1(ctx)
	default:
		return nil, model.NewInvalidProtocolError()
	}
}

// startOAuth2 はPKCEパラメータを生成し、認可エンドポイントへの開始情報を返す。
func (s *Service) startOAuth2() (*model.LinkStart, error) {
	state, err := randomHex(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}

	verifier, err := randomBase64URL(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate verifier: %w", err)
	}

	challenge := pkceChallenge(verifier)

	return &model.LinkStart{
		Protocol:    model.ProtocolOAuth2,
		RedirectURL: s.pkce.AuthorizeURL(state, challenge),
		Credentials: []model.LinkCredential{
			{Name: CredState, Value: state, MaxAge: transientCredMaxAge},
			{Name: CredVerifier, Value: verifier, MaxAge: transientCredMaxAge},
			{Name: CredProtocol, Value: string(model.ProtocolOAuth2), MaxAge: transientCredMaxAge},
		},
	}, nil
}

// startOAuth1 はrequest token交換を行い、認証エンドポイントへの開始情報を返す。
func (s *Service) startOAuth1(ctx context.Context) (*model.LinkStart, error) {
	if s.legacy == nil {
		return nil, model.NewInvalidProtocolError()
	}

	token, secret, err := s.legacy.RequestToken(ctx)
	if err != nil {
		return nil, model.NewUpstreamError(err.Error())
	}

	return &model.LinkStart{
		Protocol:    model.ProtocolOAuth1,
		RedirectURL: s.legacy.AuthenticateURL(token),
		Credentials: []model.LinkCredential{
			{Name: CredToken, Value: token, MaxAge: transientCredMaxAge},
			{Name: CredTokenSecret, Value: secret, MaxAge: transientCredMaxAge},
			{Name: CredProtocol, Value: string(model.ProtocolOAuth1), MaxAge: transientCredMaxAge},
		},
	}, nil
}

// CompleteLink はコールバックを処理し、IDハッシュを返す。
// いかなる失敗でも恒久的な副作用は残さない。
func (s *Service) CompleteLink(ctx context.Context, in *CallbackInput) (string, error) {
	var subject string
	var err error

	switch in.Protocol {
	case model.ProtocolOAuth2:
		subject, err = s.completeOAuth2(ctx, in)
	case model.ProtocolOAuth1:
		subject, err = s.completeOAuth1(ctx, in)
	default:
		return "", model.NewInvalidProtocolError()
	}
	if err != nil {
		return "", err
	}

	hash := s.HashSubject(subject)
	slog.Info("identity linked",
		slog.String("protocol", string(in.Protocol)),
		slog.String("identity_hash", hash),
	)

	return hash, nil
}

// completeOAuth2 はstate検証とcode+verifier交換を行う。
// stateは発行した値との完全一致を要求し、不一致はfail closedとする。
func (s *Service) completeOAuth2(ctx context.Context, in *CallbackInput) (string, error) {
	if in.Code == "" || in.State == "" {
		return "", model.NewStateMismatchError()
	}
	if in.StoredState == "" || in.State != in.StoredState {
		return "", model.NewStateMismatchError()
	}
	if in.StoredVerifier == "" {
		return "", model.NewMissingVerifierError()
	}

	subject, err := s.pkce.Exchange(ctx, in.Code, in.StoredVerifier)
	if err != nil {
		return "", model.NewUpstreamError(err.Error())
	}
	if subject == "" {
		return "", model.NewSubjectNotResolvedError()
	}

	return subject, nil
}

// completeOAuth1 はrequest token照合とaccess token交換を行う。
func (s *Service) completeOAuth1(ctx context.Context, in *CallbackInput) (string, error) {
	if s.legacy == nil {
		return "", model.NewInvalidProtocolError()
	}
	if in.OAuthToken == "" || in.OAuthVerifier == "" {
		return "", model.NewTokenMismatchError()
	}
	if in.StoredToken == "" || in.OAuthToken != in.StoredToken {
		return "", model.NewTokenMismatchError()
	}

	subject, err := s.legacy.AccessToken(ctx, in.OAuthToken, in.StoredSecret, in.OAuthVerifier)
	if err != nil {
		return "", model.NewUpstreamError(err.Error())
	}
	if subject == "" {
		return "", model.NewSubjectNotResolvedError()
	}

	return subject, nil
}

// HashSubject はプロバイダー側ユーザーIDからソルト付き一方向ハッシュを導出する。
// 同一アカウントに対して常に同じ値になり、逆算はできない。
func (s *Service) HashSubject(subjectID string) string {
	sum := sha256.Sum256([]byte(subjectID + ":" + s.salt))
	return "0x" + hex.EncodeToString(sum[:])
}

// pkceChallenge はverifierからS256チャレンジを導出する。
func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// randomHex は暗号的に安全なランダム値を16進数文字列で返す。
func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// randomBase64URL は暗号的に安全なランダム値をbase64url文字列で返す。
func randomBase64URL(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
