package images

import (
	"net/http"

	fileproto "github.com/transientvm/transient/images/file"
	httpproto "github.com/transientvm/transient/images/http"
	vagrantproto "github.com/transientvm/transient/images/vagrant"
)

// DefaultProtocols returns the protocol list consulted in spec order:
// vagrant, http, file.
func DefaultProtocols(client *http.Client) []Protocol {
	return []Protocol{
		vagrantproto.Protocol{Client: client},
		httpproto.Protocol{Client: client},
		fileproto.Protocol{},
	}
}
