package mcpgateway

import (
	"fmt"
	"net/url"
	"strings"
)

// NamespaceStrategy generates the downstream identifiers of upstream prompts
// and resources. Implementations must be deterministic and collision-free
// for a given server/name pair.
type NamespaceStrategy interface {
	PromptName(server, promptName string) string
	ResourceURI(server, resourceURI string) string
	NativeResourceURI(server, gatewayURI string) (string, bool)
}

// ServerPrefixNamespace prefixes prompt names with the originating server,
// separated by Separator (default "__"), and wraps resource URIs in an
// "a2c+<server>::" envelope.
type ServerPrefixNamespace struct {
	Separator string
}

func (s ServerPrefixNamespace) separator() string {
	if s.Separator == "" {
		return "__"
	}
	return s.Separator
}

func (s ServerPrefixNamespace) PromptName(server, promptName string) string {
	return fmt.Sprintf("%s%s%s", server, s.separator(), promptName)
}

func (s ServerPrefixNamespace) ResourceURI(server, resourceURI string) string {
	return resourcePrefix(server) + resourceURI
}

func (s ServerPrefixNamespace) NativeResourceURI(server, gatewayURI string) (string, bool) {
	prefix := resourcePrefix(server)
	if !strings.HasPrefix(gatewayURI, prefix) {
		return "", false
	}
	return strings.TrimPrefix(gatewayURI, prefix), true
}

func resourcePrefix(server string) string {
	return "a2c+" + url.PathEscape(server) + "::"
}
