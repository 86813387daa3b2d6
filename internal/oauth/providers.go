package oauth

import (
	"context"
	"net/url"
)

// GitHubVerifier resuelve login y email primario verificado.
type GitHubVerifier struct {
	BaseURL string
	api     apiClient
}

func NewGitHubVerifier(baseURL string) *GitHubVerifier {
	return &GitHubVerifier{BaseURL: trimBase(baseURL, "https://api.github.com"), api: newAPIClient()}
}

func (v *GitHubVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	var user struct {
		Login string `json:"login"`
	}
	if err := v.api.getJSON(ctx, v.BaseURL+"/user", req.AccessToken, &user); err != nil {
		return VerifiedUserInfo{}, err
	}
	if user.Login == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}

	var emails []struct {
		Email    string `json:"email"`
		Primary  bool   `json:"primary"`
		Verified bool   `json:"verified"`
	}
	info := VerifiedUserInfo{Username: strPtr(user.Login)}
	// sin scope user:email el endpoint falla; la identidad sigue siendo valida por login
	if err := v.api.getJSON(ctx, v.BaseURL+"/user/emails", req.AccessToken, &emails); err == nil {
		for _, e := range emails {
			if e.Primary {
				info.Email = strPtr(e.Email)
				info.EmailVerified = e.Verified
				break
			}
		}
	}
	return info, nil
}

// DiscordVerifier usa /users/@me.
type DiscordVerifier struct {
	BaseURL string
	api     apiClient
}

func NewDiscordVerifier(baseURL string) *DiscordVerifier {
	return &DiscordVerifier{BaseURL: trimBase(baseURL, "https://discord.com/api"), api: newAPIClient()}
}

func (v *DiscordVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	var me struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Verified bool   `json:"verified"`
	}
	if err := v.api.getJSON(ctx, v.BaseURL+"/users/@me", req.AccessToken, &me); err != nil {
		return VerifiedUserInfo{}, err
	}
	if me.Username == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{
		Username:      strPtr(me.Username),
		Email:         strPtr(me.Email),
		EmailVerified: me.Verified,
	}, nil
}

// TwitterVerifier usa /2/users/me; Twitter no expone email.
type TwitterVerifier struct {
	BaseURL string
	api     apiClient
}

func NewTwitterVerifier(baseURL string) *TwitterVerifier {
	return &TwitterVerifier{BaseURL: trimBase(baseURL, "https://api.twitter.com"), api: newAPIClient()}
}

func (v *TwitterVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	var me struct {
		Data struct {
			Username string `json:"username"`
		} `json:"data"`
	}
	if err := v.api.getJSON(ctx, v.BaseURL+"/2/users/me", req.AccessToken, &me); err != nil {
		return VerifiedUserInfo{}, err
	}
	if me.Data.Username == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{Username: strPtr(me.Data.Username)}, nil
}

// FarcasterVerifier resuelve el username del fid recibido como token.
type FarcasterVerifier struct {
	BaseURL string
	api     apiClient
}

func NewFarcasterVerifier(baseURL string) *FarcasterVerifier {
	return &FarcasterVerifier{BaseURL: trimBase(baseURL, "https://api.warpcast.com"), api: newAPIClient()}
}

func (v *FarcasterVerifier) Verify(ctx context.Context, req Request) (VerifiedUserInfo, error) {
	if req.AccessToken == "" {
		return VerifiedUserInfo{}, ErrMissingAccessToken
	}
	var out struct {
		Result struct {
			User struct {
				Username string `json:"username"`
			} `json:"user"`
		} `json:"result"`
	}
	if err := v.api.getJSON(ctx, v.BaseURL+"/v2/user?fid="+url.QueryEscape(req.AccessToken), "", &out); err != nil {
		return VerifiedUserInfo{}, err
	}
	if out.Result.User.Username == "" {
		return VerifiedUserInfo{}, ErrIncompleteIdentity
	}
	return VerifiedUserInfo{Username: strPtr(out.Result.User.Username)}, nil
}
