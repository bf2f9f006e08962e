package host

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MenuBinding is the page function that forwards a menu selection to the host.
const MenuBinding = "deskshellMenu"

type shortcut struct {
	ID    string `json:"id"`
	Key   string `json:"key"`
	Mod   bool   `json:"mod"`
	Shift bool   `json:"shift"`
	Alt   bool   `json:"alt"`
}

// shortcutScript builds the keydown listener that maps accelerators to menu items.
// Items without an accelerator are skipped.
func shortcutScript(items []MenuItem) (string, error) {
	var shortcuts []shortcut
	for _, item := range items {
		if item.Accelerator == "" {
			continue
		}
		acc, err := ParseAccelerator(item.Accelerator)
		if err != nil {
			return "", fmt.Errorf("menu item %s: %w", item.ID, err)
		}
		shortcuts = append(shortcuts, shortcut{
			ID:    item.ID,
			Key:   acc.Key,
			Mod:   acc.CmdOrCtrl,
			Shift: acc.Shift,
			Alt:   acc.Alt,
		})
	}
	if len(shortcuts) == 0 {
		return "", nil
	}

	table, err := json.Marshal(shortcuts)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("(function(){")
	b.WriteString("if(window.__deskshellShortcuts){return;}")
	fmt.Fprintf(&b, "window.__deskshellShortcuts=%s;", table)
	b.WriteString("window.addEventListener('keydown',function(e){")
	b.WriteString("var k=e.key.length===1?e.key.toLowerCase():e.key;")
	b.WriteString("for(var i=0;i<window.__deskshellShortcuts.length;i++){")
	b.WriteString("var s=window.__deskshellShortcuts[i];")
	b.WriteString("if(s.key===k&&s.mod===(e.metaKey||e.ctrlKey)&&s.shift===e.shiftKey&&s.alt===e.altKey){")
	fmt.Fprintf(&b, "e.preventDefault();window.%s(s.id);return;", MenuBinding)
	b.WriteString("}}},true);")
	b.WriteString("})();")
	return b.String(), nil
}

// titleScript sets the document title when the page does not provide one.
func titleScript(title string) string {
	quoted, _ := json.Marshal(title)
	return fmt.Sprintf("if(!document.title){document.title=%s;}", quoted)
}
