package api

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"
	"golang.org/x/oauth2"
)

type userInfo struct {
	ID        string
	Username  string
	AvatarURL string
}

// fetchUserInfo reads the provider's userinfo document. Providers disagree on
// field names, so the common spellings are tried in order.
func (a *API) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*userInfo, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", a.config.OAuthUserInfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "amanteslive/1.0")

	resp, err := a.oauthConfig.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	return parseUserInfo(body)
}

func parseUserInfo(body []byte) (*userInfo, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("userinfo is not valid JSON")
	}
	doc := gjson.ParseBytes(body)
	u := &userInfo{
		ID:        firstString(doc, "sub", "id", "user.id"),
		Username:  firstString(doc, "preferred_username", "username", "global_name", "name", "user.user_metadata.name"),
		AvatarURL: firstString(doc, "picture", "avatar_url", "user.user_metadata.avatar_url"),
	}
	if u.ID == "" {
		return nil, fmt.Errorf("userinfo has no subject")
	}
	if u.Username == "" {
		u.Username = u.ID
	}
	return u, nil
}

func firstString(doc gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := doc.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}
