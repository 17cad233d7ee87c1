package loom

import (
	"net/url"
	"strings"
)

// AdminStatus is the outcome of one stats admin POST, reported back on the
// redirect's "st=" query parameter.
type AdminStatus string

const (
	AdminDeny     AdminStatus = "DENY"
	AdminDone     AdminStatus = "DONE"
	AdminErrParam AdminStatus = "ERRP"
	AdminExceed   AdminStatus = "EXCD"
	AdminNone     AdminStatus = "NONE"
	AdminPartial  AdminStatus = "PART"
	AdminUnknown  AdminStatus = "UNKN"
)

// AdminAction is one of the recognized "action" form values.
type AdminAction string

const (
	AdminActionDisable  AdminAction = "disable"
	AdminActionEnable   AdminAction = "enable"
	AdminActionStop     AdminAction = "stop"
	AdminActionStart    AdminAction = "start"
	AdminActionShutdown AdminAction = "shutdown"
)

var validAdminActions = map[AdminAction]bool{
	AdminActionDisable: true, AdminActionEnable: true, AdminActionStop: true,
	AdminActionStart: true, AdminActionShutdown: true,
}

// AdminRequest is one decoded stats admin POST: a target backend, the
// requested action, and the server names it applies to.
type AdminRequest struct {
	Backend string
	Action  AdminAction
	Servers []string
}

// ParseAdminForm decodes an "application/x-www-form-urlencoded" admin POST
// body into its b/action/s fields, without performing the action itself —
// the load-balancing/server-state subsystem the action targets is out of
// scope for this package.
func ParseAdminForm(body []byte) (*AdminRequest, AdminStatus) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, AdminErrParam
	}
	backend := values.Get("b")
	action := AdminAction(values.Get("action"))
	servers := values["s"]

	if backend == "" || action == "" {
		return nil, AdminErrParam
	}
	if !validAdminActions[action] {
		return nil, AdminUnknown
	}
	if len(servers) == 0 {
		return nil, AdminErrParam
	}
	return &AdminRequest{Backend: backend, Action: action, Servers: servers}, AdminDone
}

// AdminRedirectLocation builds the "<uri>;st=<status>" Location value
// specifies for a successful admin POST's 303 response; when uri
// already contains ';' the parameter is joined with '&' instead.
func AdminRedirectLocation(uri string, status AdminStatus) string {
	sep := ";"
	if strings.Contains(uri, ";") {
		sep = "&"
	}
	return uri + sep + "st=" + string(status)
}
