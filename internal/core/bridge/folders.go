package bridge

import (
	"strings"

	goimap "github.com/emersion/go-imap"

	"github.com/EasyLZU/EasyLZUMail/internal/core/webmail"
	"github.com/EasyLZU/EasyLZUMail/internal/interfaces"
)

// Upstream names of the well-known folders.
const (
	InboxName  = "收件箱"
	todoName   = "待办邮件"
	draftsName = "草稿箱"
	sentName   = "已发送"
	trashName  = "已删除"
	junkName   = "垃圾邮件"
)

type folderRole struct {
	path       string
	specialUse string
}

// folderTable maps the upstream folder names to their protocol role.
var folderTable = map[string]folderRole{
	todoName:   {specialUse: goimap.FlaggedAttr},
	InboxName:  {path: interfaces.InboxPath},
	draftsName: {specialUse: goimap.DraftsAttr},
	sentName:   {specialUse: goimap.SentAttr},
	trashName:  {specialUse: goimap.TrashAttr},
	junkName:   {specialUse: goimap.JunkAttr},
}

func toFolder(f webmail.Folder) interfaces.Folder {
	role := folderTable[f.Name]
	path := role.path
	if path == "" {
		path = f.Name
	}
	return interfaces.Folder{
		ID:         f.ID,
		Name:       f.Name,
		Path:       path,
		SpecialUse: role.specialUse,
		Messages:   clampCount(f.Stats.MessageCount),
		Unseen:     clampCount(f.Stats.UnreadMessageCount),
	}
}

// upstreamName resolves a protocol mailbox name to the upstream folder name.
func upstreamName(name string) string {
	if strings.EqualFold(name, interfaces.InboxPath) {
		return InboxName
	}
	return name
}

func clampCount(n int) uint32 {
	if n < 0 {
		return 0
	}
	return uint32(n)
}
