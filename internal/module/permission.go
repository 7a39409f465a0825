package module

import (
	"fmt"
	"strings"
)

// Permission is a bit set of chat capabilities a module may request in its
// manifest. The host surfaces requested permissions to the operator; it does
// not enforce them against the chat backend.
type Permission uint32

const (
	PermSendMessages Permission = 1 << iota
	PermManageMessages
	PermEmbedLinks
	PermAttachFiles
	PermAddReactions
	PermMentionEveryone
	PermManageChannels
	PermManageRoles
	PermKickMembers
	PermBanMembers
	PermAdministrator
)

var permissionNames = map[string]Permission{
	"send_messages":    PermSendMessages,
	"manage_messages":  PermManageMessages,
	"embed_links":      PermEmbedLinks,
	"attach_files":     PermAttachFiles,
	"add_reactions":    PermAddReactions,
	"mention_everyone": PermMentionEveryone,
	"manage_channels":  PermManageChannels,
	"manage_roles":     PermManageRoles,
	"kick_members":     PermKickMembers,
	"ban_members":      PermBanMembers,
	"administrator":    PermAdministrator,
}

// permissionOrder keeps Names and String output deterministic.
var permissionOrder = []string{
	"send_messages", "manage_messages", "embed_links", "attach_files",
	"add_reactions", "mention_everyone", "manage_channels", "manage_roles",
	"kick_members", "ban_members", "administrator",
}

// ParsePermission resolves a single permission name.
func ParsePermission(name string) (Permission, error) {
	p, ok := permissionNames[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPermission, name)
	}
	return p, nil
}

// ParsePermissions resolves a list of permission names into one bit set.
func ParsePermissions(names []string) (Permission, error) {
	var set Permission
	for _, name := range names {
		p, err := ParsePermission(name)
		if err != nil {
			return 0, err
		}
		set |= p
	}
	return set, nil
}

// Has reports whether every bit in q is present in p.
func (p Permission) Has(q Permission) bool {
	return p&q == q
}

// Names returns the set's permission names in declaration order.
func (p Permission) Names() []string {
	var out []string
	for _, name := range permissionOrder {
		if p.Has(permissionNames[name]) {
			out = append(out, name)
		}
	}
	return out
}

func (p Permission) String() string {
	if p == 0 {
		return "none"
	}
	return strings.Join(p.Names(), ",")
}
