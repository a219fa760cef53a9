// internal/browser/scripts.go
package browser

// indexAttribute marks elements the agent can refer to by index.
const indexAttribute = "data-page-agent-index"

// snapshotScript indexes the visible interactive elements of the document and
// returns them together with the scroll geometry. Indexes are reassigned on
// every snapshot.
const snapshotScript = `(() => {
  const ATTR = "data-page-agent-index";
  document.querySelectorAll("[" + ATTR + "]").forEach(el => el.removeAttribute(ATTR));

  const selector = [
    "a[href]", "button", "input:not([type=hidden])", "select", "textarea", "summary",
    "[role=button]", "[role=link]", "[role=checkbox]", "[role=radio]", "[role=tab]",
    "[role=menuitem]", "[role=option]", "[role=switch]", "[role=combobox]",
    "[contenteditable=''], [contenteditable=true]", "[onclick]", "[tabindex]:not([tabindex='-1'])"
  ].join(",");

  const visible = el => {
    const style = window.getComputedStyle(el);
    if (style.visibility === "hidden" || style.display === "none" || style.opacity === "0") return false;
    const rect = el.getBoundingClientRect();
    return rect.width > 0 && rect.height > 0;
  };

  const keep = ["type", "name", "placeholder", "aria-label", "title", "role", "href", "value", "alt"];
  const elements = [];
  let index = 0;
  for (const el of document.querySelectorAll(selector)) {
    if (!visible(el) || el.disabled) continue;
    el.setAttribute(ATTR, String(index));
    const attrs = {};
    for (const name of keep) {
      const v = el.getAttribute(name);
      if (v) attrs[name] = v.slice(0, 120);
    }
    if (el.tagName === "SELECT") {
      attrs["options"] = Array.from(el.options).map(o => o.text.trim()).filter(Boolean).slice(0, 20).join("|");
    }
    const text = (el.innerText || el.value || "").replace(/\s+/g, " ").trim().slice(0, 200);
    elements.push({ index, tag: el.tagName.toLowerCase(), text, attrs });
    index++;
  }

  const doc = document.scrollingElement || document.documentElement;
  return {
    url: location.href,
    title: document.title,
    elements,
    scrollY: Math.round(window.scrollY),
    scrollHeight: Math.round(doc.scrollHeight),
    viewportHeight: Math.round(window.innerHeight)
  };
})()`

// cleanupScript removes every index attribute.
const cleanupScript = `(() => {
  const ATTR = "data-page-agent-index";
  const marked = document.querySelectorAll("[" + ATTR + "]");
  marked.forEach(el => el.removeAttribute(ATTR));
  return marked.length;
})()`

// selectOptionScript selects the option of the indexed select whose text
// matches. Arguments: index, option text.
const selectOptionScript = `((index, text) => {
  const el = document.querySelector('[data-page-agent-index="' + index + '"]');
  if (!el) return { ok: false, message: "element with index " + index + " not found" };
  if (el.tagName !== "SELECT") return { ok: false, message: "element with index " + index + " is not a select element" };
  const wanted = text.trim().toLowerCase();
  const option = Array.from(el.options).find(o => o.text.trim().toLowerCase() === wanted);
  if (!option) {
    const available = Array.from(el.options).map(o => o.text.trim()).join(", ");
    return { ok: false, message: "option \"" + text + "\" not found; available options: " + available };
  }
  el.value = option.value;
  el.dispatchEvent(new Event("input", { bubbles: true }));
  el.dispatchEvent(new Event("change", { bubbles: true }));
  return { ok: true, message: "Selected option \"" + option.text.trim() + "\"" };
})`

// scrollScript scrolls the document or an indexed container. Arguments:
// index (-1 for the document), dx, dy, and a signed number of viewport
// heights added to dy.
const scrollScript = `((index, dx, dy, pages) => {
  let target = window;
  if (index >= 0) {
    const el = document.querySelector('[data-page-agent-index="' + index + '"]');
    if (!el) return { ok: false, message: "element with index " + index + " not found" };
    target = el;
  }
  const before = target === window ? [window.scrollX, window.scrollY] : [target.scrollLeft, target.scrollTop];
  const height = target === window ? window.innerHeight : target.clientHeight;
  target.scrollBy(dx, dy + Math.round(pages * height));
  const after = target === window ? [window.scrollX, window.scrollY] : [target.scrollLeft, target.scrollTop];
  const moved = Math.round(Math.abs(after[0] - before[0]) + Math.abs(after[1] - before[1]));
  return { ok: true, moved, viewportHeight: window.innerHeight, viewportWidth: window.innerWidth };
})`

// existsScript reports whether an indexed element is present. Argument: index.
const existsScript = `((index) => !!document.querySelector('[data-page-agent-index="' + index + '"]'))`
