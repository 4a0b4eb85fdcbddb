package server

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"
	"time"
)

const (
	visitorCookieName = "pg_vid"
	userHeader        = "X-Popgoat-User"
	rolesHeader       = "X-Popgoat-Roles"
)

// visitor is the identity derived from a request.
type visitor struct {
	ID        string
	LoggedIn  bool
	Roles     []string
	Returning bool
	// fresh is set when the ID came from the IP/user-agent fallback and
	// should be handed back as a cookie.
	fresh bool
}

// resolveVisitor picks the visitor id from, in order: an explicit id in the
// request body, the logged-in user header, the pg_vid cookie, and finally a
// hash of client IP and user agent.
func resolveVisitor(r *http.Request, explicit string) visitor {
	var v visitor

	if user := strings.TrimSpace(r.Header.Get(userHeader)); user != "" {
		v.LoggedIn = true
		v.ID = "u:" + user
		for _, role := range strings.Split(r.Header.Get(rolesHeader), ",") {
			if role = strings.TrimSpace(role); role != "" {
				v.Roles = append(v.Roles, role)
			}
		}
	}

	cookie, err := r.Cookie(visitorCookieName)
	hasCookie := err == nil && cookie.Value != ""
	v.Returning = hasCookie

	switch {
	case explicit != "":
		v.ID = explicit
	case v.ID != "":
	case hasCookie:
		v.ID = cookie.Value
	default:
		sum := sha256.Sum256([]byte(clientIP(r) + "|" + r.UserAgent()))
		v.ID = "a:" + hex.EncodeToString(sum[:12])
		v.fresh = true
	}

	return v
}

func setVisitorCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     visitorCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		MaxAge:   int(365 * 24 * time.Hour / time.Second),
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseUserAgent classifies a user agent into a device type (desktop, mobile,
// tablet) and a lower-case browser family.
func parseUserAgent(ua string) (device, browser string) {
	switch {
	case strings.Contains(ua, "iPad"), strings.Contains(ua, "Tablet"),
		strings.Contains(ua, "Android") && !strings.Contains(ua, "Mobile"):
		device = "tablet"
	case strings.Contains(ua, "Mobi"), strings.Contains(ua, "iPhone"), strings.Contains(ua, "Android"):
		device = "mobile"
	default:
		device = "desktop"
	}

	switch {
	case strings.Contains(ua, "Edg/"), strings.Contains(ua, "EdgA/"), strings.Contains(ua, "EdgiOS/"):
		browser = "edge"
	case strings.Contains(ua, "OPR/"), strings.Contains(ua, "Opera"):
		browser = "opera"
	case strings.Contains(ua, "SamsungBrowser/"):
		browser = "samsung"
	case strings.Contains(ua, "Firefox/"), strings.Contains(ua, "FxiOS/"):
		browser = "firefox"
	case strings.Contains(ua, "Chrome/"), strings.Contains(ua, "CriOS/"):
		browser = "chrome"
	case strings.Contains(ua, "Safari/"):
		browser = "safari"
	default:
		browser = "other"
	}
	return device, browser
}
