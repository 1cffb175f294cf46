package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRFC3986Escape(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"unreserved untouched", "AZaz09-._~", "AZaz09-._~"},
		{"space is %20 not plus", "a b", "a%20b"},
		{"plus encoded", "a+b", "a%2Bb"},
		{"symbols", "Ladies + Gentlemen!", "Ladies%20%2B%20Gentlemen%21"},
		{"url", "https://example.com/cb", "https%3A%2F%2Fexample.com%2Fcb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rfc3986Escape(tt.in); got != tt.want {
				t.Errorf("rfc3986Escape(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// Twitter API開発者ドキュメントに掲載されている既知の署名ベクターで検証する。
func TestSignHMACSHA1_KnownVector(t *testing.T) {
	params := map[string]string{
		"oauth_consumer_key":     "xvz1evFS4wEEPTGEFPHBog",
		"oauth_nonce":            "kYjzVBB8Y0ZFabxSWbWovY3uYSQ2pTgmZeNu2VS4cg",
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        "1318622958",
		"oauth_token":            "370773112-GmHxMAgYyLbNEtIKZeRNFsMKPR9EyMZeS9weJAEb",
		"oauth_version":          "1.0",
		"status":                 "Hello Ladies + Gentlemen, a signed OAuth request!",
		"include_entities":       "true",
	}

	got := signHMACSHA1(
		"POST",
		"https://api.twitter.com/1.1/statuses/update.json",
		params,
		"kAcSOqF21Fu85e7zjz7ZN2U4ZRhfV3WpwPAoE3Z7kBw",
		"LswwdoUaIvS8ltyTt5jkRh4J50vUPVVHtR2YPi5kE",
	)

	want := "hCtSmYh+iHYCEqBWrE7C7hYmtUk="
	if got != want {
		t.Errorf("signHMACSHA1() = %q, want %q", got, want)
	}
}

func TestRequestToken_SendsSignedRequestAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "OAuth ") {
			t.Errorf("Authorization should be OAuth scheme: %q", auth)
		}
		for _, part := range []string{
			"oauth_consumer_key=\"test-ck\"",
			"oauth_signature_method=\"HMAC-SHA1\"",
			"oauth_signature=",
			"oauth_callback=",
		} {
			if !strings.Contains(auth, part) {
				t.Errorf("Authorization should contain %s: %q", part, auth)
			}
		}

		w.Write([]byte("oauth_token=req-token&oauth_token_secret=req-secret&oauth_callback_confirmed=true"))
	}))
	defer server.Close()

	provider := NewXOAuth1Provider(XOAuth1Config{
		ConsumerKey:     "test-ck",
		ConsumerSecret:  "test-cs",
		CallbackURL:     "https://faucet.example.com/auth/x/callback",
		RequestTokenURL: server.URL,
	})

	token, secret, err := provider.RequestToken(context.Background())
	if err != nil {
		t.Fatalf("RequestToken() error = %v", err)
	}
	if token != "req-token" {
		t.Errorf("token = %q, want %q", token, "req-token")
	}
	if secret != "req-secret" {
		t.Errorf("secret = %q, want %q", secret, "req-secret")
	}
}

func TestRequestToken_UpstreamFailureSurfacesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("Failed to validate oauth signature and token"))
	}))
	defer server.Close()

	provider := NewXOAuth1Provider(XOAuth1Config{
		ConsumerKey:     "test-ck",
		ConsumerSecret:  "test-cs",
		RequestTokenURL: server.URL,
	})

	_, _, err := provider.RequestToken(context.Background())
	if err == nil {
		t.Fatal("expected error for upstream failure")
	}
	if !strings.Contains(err.Error(), "Failed to validate") {
		t.Errorf("error should surface the upstream body: %v", err)
	}
}

func TestAccessToken_ResolvesUserID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.Contains(auth, "oauth_token=\"req-token\"") {
			t.Errorf("Authorization should carry oauth_token: %q", auth)
		}
		if !strings.Contains(auth, "oauth_verifier=\"the-verifier\"") {
			t.Errorf("Authorization should carry oauth_verifier: %q", auth)
		}

		w.Write([]byte("oauth_token=acc-token&oauth_token_secret=acc-secret&user_id=6253282&screen_name=apiuser"))
	}))
	defer server.Close()

	provider := NewXOAuth1Provider(XOAuth1Config{
		ConsumerKey:    "test-ck",
		ConsumerSecret: "test-cs",
		AccessTokenURL: server.URL,
	})

	userID, err := provider.AccessToken(context.Background(), "req-token", "req-secret", "the-verifier")
	if err != nil {
		t.Fatalf("AccessToken() error = %v", err)
	}
	if userID != "6253282" {
		t.Errorf("userID = %q, want %q", userID, "6253282")
	}
}

func TestAccessToken_MissingUserIDFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("oauth_token=acc-token&oauth_token_secret=acc-secret"))
	}))
	defer server.Close()

	provider := NewXOAuth1Provider(XOAuth1Config{
		ConsumerKey:    "test-ck",
		ConsumerSecret: "test-cs",
		AccessTokenURL: server.URL,
	})

	_, err := provider.AccessToken(context.Background(), "t", "s", "v")
	if err == nil {
		t.Fatal("expected error when user_id is absent")
	}
}

func TestAuthenticateURL_CarriesRequestToken(t *testing.T) {
	provider := NewXOAuth1Provider(XOAuth1Config{
		ConsumerKey:    "test-ck",
		ConsumerSecret: "test-cs",
	})

	u := provider.AuthenticateURL("req-token")
	if !strings.Contains(u, "oauth_token=req-token") {
		t.Errorf("authenticate URL should carry the request token: %q", u)
	}
}
