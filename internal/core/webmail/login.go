package webmail

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/EasyLZU/EasyLZUMail/internal/utils/redact"
)

// Login runs the three stage browser login and stores the resulting sid and
// cookie. The client state is left untouched when any stage fails.
func (c *Client) Login(ctx context.Context, account, secret string) error {
	log := logWebmail.WithField("account", redact.MaskEmail(account))

	// Stage 1: the index page embeds the query string of the login form.
	index, err := c.get(ctx, "fetch index page", c.endpoint(indexPath, nil), "")
	if err != nil {
		return err
	}
	if index.status/100 != 2 {
		return &UnexpectedResponseError{Status: index.status}
	}
	params, err := c.extractor.FormParameters(string(index.body))
	if err != nil {
		return err
	}
	log.WithField("params", params).Debug("Index page URL parameters")

	// Stage 2: submit the credentials.
	form, err := loginForm(account, secret)
	if err != nil {
		return err
	}
	res, err := c.do(ctx, "submit login form", http.MethodPost,
		c.base.String()+indexPath+params, "application/x-www-form-urlencoded", "", []byte(form))
	if err != nil {
		return err
	}
	setCookies := res.header.Values("Set-Cookie")
	if len(setCookies) == 0 {
		return ErrAuthenticationFailed
	}
	sessionCookie := strings.TrimSpace(strings.SplitN(setCookies[0], ";", 2)[0])

	// Stage 3: the sid lives in a script variable of the landing page.
	sid, err := c.extractor.SessionToken(string(res.body))
	if err != nil {
		return err
	}
	cookie := strings.Join([]string{
		"face=undefined",
		"locale=zh_CN",
		"saveUsername=true",
		"uid=" + url.QueryEscape(account),
		sessionCookie,
		"CoremailReferer=" + url.QueryEscape(c.base.String()+"/"),
		"Coremail.sid=" + sid,
	}, "; ")

	c.mu.Lock()
	c.account = account
	c.sid = sid
	c.cookie = cookie
	c.mu.Unlock()

	log.Info("New webmail session established")
	return nil
}

// loginForm encodes the fields in the order the browser submits them.
func loginForm(account, secret string) (string, error) {
	device, err := json.Marshal(webmailDevice)
	if err != nil {
		return "", err
	}
	fields := [][2]string{
		{"locale", "zh_CN"},
		{"nodetect", "false"},
		{"destURL", ""},
		{"supportLoginDevice", "false"},
		{"accessToken", ""},
		{"timestamp", ""},
		{"signature", ""},
		{"nonce", ""},
		{"device", string(device)},
		{"supportDynamicPwd", "false"},
		{"supportBind2FA", "false"},
		{"authorizeDevice", ""},
		{"loginType", ""},
		{"uid", account},
		{"password", secret},
		{"action:login", ""},
	}
	var b strings.Builder
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(f[0]))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(f[1]))
	}
	return b.String(), nil
}
