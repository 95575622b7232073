package domain

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
)

type DomainID int64

type CheckID int64

type Protocol string

const (
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

func (p Protocol) Valid() bool {
	return p == ProtocolHTTP || p == ProtocolHTTPS
}

type Method string

const (
	MethodGet    Method = "get"
	MethodPost   Method = "post"
	MethodPut    Method = "put"
	MethodDelete Method = "delete"
	MethodHead   Method = "head"
)

var httpMethods = map[Method]string{
	MethodGet:    http.MethodGet,
	MethodPost:   http.MethodPost,
	MethodPut:    http.MethodPut,
	MethodDelete: http.MethodDelete,
	MethodHead:   http.MethodHead,
}

func (m Method) Valid() bool {
	_, ok := httpMethods[m]
	return ok
}

// HTTP returns the verb as net/http spells it, e.g. "GET".
func (m Method) HTTP() string {
	return httpMethods[m]
}

// Domain is a named host owned by a single owner.
type Domain struct {
	ID        DomainID  `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"created_at"`
}

// Check is one configured probe against a domain. DomainName is filled in by
// the stores so that URL() can be assembled without a second lookup.
type Check struct {
	ID         CheckID  `json:"id"`
	DomainID   DomainID `json:"domain_id"`
	DomainName string   `json:"domain"`
	Path       string   `json:"path"`
	Protocol   Protocol `json:"protocol"`
	Method     Method   `json:"method"`
	Active     bool     `json:"is_active"`
}

func (c Check) URL() string {
	return fmt.Sprintf("%s://%s%s", c.Protocol, c.DomainName, c.Path)
}

func (c Check) Validate() error {
	if !c.Protocol.Valid() {
		return fmt.Errorf("check %d: unsupported protocol %q", c.ID, c.Protocol)
	}
	if !c.Method.Valid() {
		return fmt.Errorf("check %d: unsupported method %q", c.ID, c.Method)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("check %d: path %q must start with /", c.ID, c.Path)
	}
	return nil
}

// ProbeResult is one immutable outcome of running a check. A nil StatusCode
// means no response was received.
type ProbeResult struct {
	ID           int64     `json:"id"`
	CheckID      CheckID   `json:"check_id"`
	CheckedOn    time.Time `json:"checked_on"`
	StatusCode   *int      `json:"status_code"`
	ResponseTime *float64  `json:"response_time"`
	ResponseBody string    `json:"response_body"`
}

func (r ProbeResult) Success() bool {
	return r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode <= 299
}

var namePattern = regexp.MustCompile(`^[-A-Za-z0-9.]{4,253}$`)

// ValidName reports whether s looks like a bare host name.
func ValidName(s string) bool {
	return namePattern.MatchString(s)
}

// CountActive returns how many checks in the group are active.
func CountActive(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Active {
			n++
		}
	}
	return n
}
