package cdp

import (
	"encoding/json"
	"fmt"
)

// Google Meet controls. Several selectors per control survive UI changes.
var (
	nameInputs = []string{
		"input[placeholder*='name']",
		"input[aria-label*='name']",
		"input[type='text']",
	}
	joinTexts     = []string{"Join now", "Ask to join", "Join"}
	joinSelectors = []string{"[aria-label*='Join']", "[jsname='Qx7uuf']"}
	leaveButtons  = []string{
		"[aria-label*='Leave call']",
		"[aria-label*='End call']",
		"button[data-call-leave]",
	}
	micButtons = []string{
		"[aria-label*='microphone']",
		"[aria-label*='Microphone']",
		"[data-tooltip*='microphone']",
		"[data-tooltip*='Mute']",
		"[data-tooltip*='Unmute']",
		"[aria-label*='Mute']",
		"[aria-label*='Unmute']",
	}
	micOff = []string{"[aria-label*='Turn on microphone']", "[aria-label*='Unmute']"}
	micOn  = []string{"[aria-label*='Turn off microphone']", "[aria-label*='Mute']"}

	cameraButtons = []string{
		"[aria-label*='camera']",
		"[aria-label*='Camera']",
		"[data-tooltip*='camera']",
	}
	cameraOff = []string{"[aria-label*='Turn on camera']", "[aria-label*='camera off']"}
	cameraOn  = []string{"[aria-label*='Turn off camera']", "[aria-label*='camera on']"}

	chatButtons = []string{"[aria-label*='Chat']", "[aria-label*='chat']", "button[data-tooltip*='Chat']"}
	chatInputs  = []string{
		"textarea[placeholder*='message']",
		"input[placeholder*='message']",
		"[aria-label*='Type a message']",
	}
)

// visible is the shared element visibility predicate.
const visible = `const visible = (el) => !!el && (el.offsetParent !== null || el.getClientRects().length > 0);`

func jsList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// clickFirst clicks the first visible element matching selectors and
// evaluates to whether it did.
func clickFirst(selectors []string) string {
	return fmt.Sprintf(`(() => { %s
for (const s of %s) { const el = document.querySelector(s); if (visible(el)) { el.click(); return true; } }
return false; })()`, visible, jsList(selectors))
}

// clickButtonText clicks the first visible button whose text contains one
// of texts, in order of texts.
func clickButtonText(texts []string) string {
	return fmt.Sprintf(`(() => { %s
const buttons = [...document.querySelectorAll("button, [role='button']")].filter(visible);
for (const t of %s) { const el = buttons.find((b) => (b.innerText || "").includes(t)); if (el) { el.click(); return true; } }
return false; })()`, visible, jsList(texts))
}

// fillFirst writes value into the first visible input matching selectors.
func fillFirst(selectors []string, value string) string {
	return fmt.Sprintf(`(() => { %s
for (const s of %s) { const el = document.querySelector(s);
  if (visible(el)) { el.focus(); el.value = %s; el.dispatchEvent(new Event("input", {bubbles: true})); return true; } }
return false; })()`, visible, jsList(selectors), jsString(value))
}

// focusFirst focuses the first visible element matching selectors.
func focusFirst(selectors []string) string {
	return fmt.Sprintf(`(() => { %s
for (const s of %s) { const el = document.querySelector(s); if (visible(el)) { el.focus(); return true; } }
return false; })()`, visible, jsList(selectors))
}

// toggleState evaluates to false when an off indicator is visible, true
// when an on indicator is, and null otherwise.
func toggleState(off, on []string) string {
	return fmt.Sprintf(`(() => { %s
const any = (list) => list.some((s) => visible(document.querySelector(s)));
if (any(%s)) return false;
if (any(%s)) return true;
return null; })()`, visible, jsList(off), jsList(on))
}

const readyStateScript = `document.readyState`

// participantsScript collects the names shown in participant tiles.
const participantsScript = `(() => {
const names = new Set();
for (const el of document.querySelectorAll("[data-participant-id]")) {
  const label = el.getAttribute("aria-label") || (el.querySelector("[data-self-name]") || {}).innerText || (el.innerText || "").split("\n")[0];
  const name = (label || "").trim();
  if (name) names.add(name);
}
return [...names]; })()`
