package panel

import (
	"github.com/benAliAlizadeh/mahsabot/internal/models"
)

// locatedClient is a resolved account position inside the inbound list
type locatedClient struct {
	inbound  *models.Inbound
	settings *models.InboundSettings
	index    int
}

func (l *locatedClient) client() *models.InboundClient {
	return &l.settings.Clients[l.index]
}

// findClient resolves an account reference against the live inbound list.
//
// Dedicated mode (inboundID 0): the account owns its inbound, so the first
// client's identity field is compared against the credential.
//
// Shared mode (inboundID > 0): the inbound is selected by id, then clients
// are scanned by the protocol-implied identity field with a fallback match
// on the other field, which tolerates records written before a protocol
// change. Returns nil when nothing matches.
func findClient(inbounds []models.Inbound, inboundID int, credential, protocol string) *locatedClient {
	for i := range inbounds {
		row := &inbounds[i]

		if inboundID == 0 {
			settings, err := row.ParseSettings()
			if err != nil || len(settings.Clients) == 0 {
				continue
			}
			if settings.Clients[0].Identity(protocol) == credential {
				return &locatedClient{inbound: row, settings: settings, index: 0}
			}
			continue
		}

		if row.ID != inboundID {
			continue
		}
		settings, err := row.ParseSettings()
		if err != nil {
			return nil
		}
		for k := range settings.Clients {
			c := &settings.Clients[k]
			if c.Identity(protocol) == credential || c.Password == credential || c.ID == credential {
				return &locatedClient{inbound: row, settings: settings, index: k}
			}
		}
		return nil
	}
	return nil
}
