package cdp

// Script is an in-page function. Name identifies it for logs and for the
// cdptest fake, Source is a function declaration. Element scripts run with
// this bound to the element; page scripts run in the main frame.
type Script struct {
	Name   string
	Source string
}

// Element scripts.
var (
	// ScriptOcclusion(x, y) reports whether a pointer event at (x, y), in
	// top-level viewport coordinates, would miss the element. Without a
	// point the element's centroid is used. A point outside the viewport
	// counts as occluded.
	ScriptOcclusion = Script{Name: "occlusion", Source: `function(px, py) {
	const r = this.getBoundingClientRect();
	if (r.width === 0 || r.height === 0) return true;
	const win = this.ownerDocument.defaultView;
	let x = r.left + r.width / 2, y = r.top + r.height / 2;
	if (typeof px === 'number' && typeof py === 'number') {
		let ox = 0, oy = 0;
		try {
			for (let w = win; w.frameElement; w = w.parent) {
				const f = w.frameElement, fr = f.getBoundingClientRect();
				ox += fr.left + f.clientLeft;
				oy += fr.top + f.clientTop;
			}
		} catch (e) {}
		x = px - ox;
		y = py - oy;
	}
	if (x < 0 || y < 0 || x >= win.innerWidth || y >= win.innerHeight) return true;
	const root = this.getRootNode();
	const hit = (root.elementFromPoint ? root : this.ownerDocument).elementFromPoint(x, y);
	if (!hit) return true;
	for (let cur = hit; cur; cur = cur.parentNode || cur.host || null) {
		if (cur === this) return false;
	}
	return true;
}`}

	ScriptForceClick = Script{Name: "forceClick", Source: `function() {
	try { this.scrollIntoView({block: 'center', inline: 'center'}); } catch (e) {}
	try { this.focus({preventScroll: true}); } catch (e) {}
	for (const type of ['pointerdown', 'mousedown', 'pointerup', 'mouseup']) {
		const Ctor = type.startsWith('pointer') && window.PointerEvent ? PointerEvent : MouseEvent;
		this.dispatchEvent(new Ctor(type, {bubbles: true, cancelable: true, composed: true, view: window}));
	}
	this.click();
	return true;
}`}

	ScriptBoundingRect = Script{Name: "boundingRect", Source: `function() {
	const r = this.getBoundingClientRect();
	let x = r.left, y = r.top, w = this.ownerDocument.defaultView;
	try {
		while (w && w.frameElement) {
			const fr = w.frameElement.getBoundingClientRect();
			x += fr.left; y += fr.top; w = w.parent;
		}
	} catch (e) {}
	return {x: x, y: y, width: r.width, height: r.height};
}`}

	ScriptScrollIntoView = Script{Name: "scrollIntoView", Source: `function() {
	this.scrollIntoView({block: 'center', inline: 'center', behavior: 'instant'});
	return true;
}`}

	// ScriptSetValue(text, clear) assigns value or text content and fires input/change.
	ScriptSetValue = Script{Name: "setValue", Source: `function(text, clear) {
	if (this.isContentEditable) {
		this.focus();
		this.textContent = clear ? text : this.textContent + text;
		this.dispatchEvent(new InputEvent('input', {bubbles: true, composed: true, inputType: 'insertText', data: text}));
		return this.textContent;
	}
	const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
	const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
	setter.call(this, clear ? text : this.value + text);
	this.dispatchEvent(new Event('input', {bubbles: true, composed: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return this.value;
}`}

	ScriptReadValue = Script{Name: "readValue", Source: `function() {
	if (this.isContentEditable) return this.textContent;
	return this.value !== undefined ? String(this.value) : this.textContent;
}`}

	// ScriptAssignSelect(items, by) selects the options matching items by
	// "value", "label" or "index" and returns the selected values.
	ScriptAssignSelect = Script{Name: "assignSelect", Source: `function(items, by) {
	if (!(this instanceof HTMLSelectElement)) throw new Error('not a select element');
	const opts = Array.from(this.options);
	const want = this.multiple ? items : items.slice(0, 1);
	const norm = s => String(s).trim();
	const match = (o, i) => want.some(w => by === 'index' ? String(i) === norm(w)
		: by === 'label' ? norm(o.label) === norm(w) || norm(o.text) === norm(w)
		: o.value === String(w));
	const flags = opts.map(match);
	if (!flags.some(Boolean)) throw new Error('no matching option');
	opts.forEach((o, i) => { if (!flags[i]) o.selected = false; });
	opts.forEach((o, i) => { if (flags[i]) o.selected = true; });
	this.dispatchEvent(new Event('input', {bubbles: true, composed: true}));
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return opts.filter(o => o.selected).map(o => o.value);
}`}

	ScriptSelectedValues = Script{Name: "selectedValues", Source: `function() {
	return Array.from(this.selectedOptions || []).map(o => o.value);
}`}

	ScriptListOptions = Script{Name: "listOptions", Source: `function() {
	if (!(this instanceof HTMLSelectElement)) throw new Error('not a select element');
	return {multiple: this.multiple, options: Array.from(this.options).map((o, i) => ({
		index: i, text: o.text.trim(), value: o.value, selected: o.selected}))};
}`}

	ScriptCheckedState = Script{Name: "checkedState", Source: `function() {
	const s = getComputedStyle(this);
	const r = this.getBoundingClientRect();
	return {
		checked: this.checked === true || this.getAttribute('aria-checked') === 'true',
		visible: r.width > 0 && r.height > 0 && s.visibility !== 'hidden' && s.display !== 'none' && parseFloat(s.opacity) > 0,
	};
}`}

	// ScriptClickLabel clicks the label associated with a control: a
	// root-scoped label[for], then an ancestor label, then control.labels.
	ScriptClickLabel = Script{Name: "clickLabel", Source: `function() {
	let label = null;
	if (this.id) {
		const root = this.getRootNode();
		label = (root.querySelector ? root : document).querySelector('label[for="' + CSS.escape(this.id) + '"]');
	}
	if (!label) label = this.closest('label');
	if (!label && this.labels && this.labels.length) label = this.labels[0];
	if (!label) return false;
	label.click();
	return true;
}`}

	ScriptForceChecked = Script{Name: "forceChecked", Source: `function(state) {
	if (this instanceof HTMLInputElement) {
		if (this.checked !== state) {
			this.checked = state;
			this.dispatchEvent(new Event('input', {bubbles: true, composed: true}));
			this.dispatchEvent(new Event('change', {bubbles: true}));
		}
		return this.checked;
	}
	this.setAttribute('aria-checked', state ? 'true' : 'false');
	this.dispatchEvent(new Event('change', {bubbles: true}));
	return state;
}`}

	// ScriptSetSelection(start, end) selects a span of an input, textarea or
	// contenteditable element. Offsets are UTF-16 code units, as the DOM
	// counts them.
	ScriptSetSelection = Script{Name: "setSelection", Source: `function(start, end) {
	if (this instanceof HTMLInputElement || this instanceof HTMLTextAreaElement) {
		this.focus();
		this.setSelectionRange(start, end);
		return this.selectionStart === start && this.selectionEnd === end;
	}
	if (!this.isContentEditable) throw new Error('element does not support selection');
	this.focus();
	const range = document.createRange();
	range.setStart(this, 0);
	range.setEnd(this, 0);
	const walker = document.createTreeWalker(this, NodeFilter.SHOW_TEXT);
	let pos = 0, node, started = false;
	while ((node = walker.nextNode())) {
		const len = node.data.length;
		if (!started && start <= pos + len) { range.setStart(node, start - pos); started = true; }
		if (started && end <= pos + len) { range.setEnd(node, end - pos); break; }
		pos += len;
	}
	const sel = window.getSelection();
	sel.removeAllRanges();
	sel.addRange(range);
	return true;
}`}

	// ScriptSelectionInfo returns the value and selection in UTF-16 code units.
	ScriptSelectionInfo = Script{Name: "selectionInfo", Source: `function() {
	if (this instanceof HTMLInputElement || this instanceof HTMLTextAreaElement) {
		const n = this.value.length;
		return {value: this.value, start: this.selectionStart ?? n, end: this.selectionEnd ?? n};
	}
	const text = this.textContent;
	const sel = window.getSelection();
	if (!sel || sel.rangeCount === 0 || !this.contains(sel.getRangeAt(0).startContainer)) {
		return {value: text, start: text.length, end: text.length};
	}
	const r = sel.getRangeAt(0);
	const off = (c, o) => { const pre = document.createRange(); pre.selectNodeContents(this); pre.setEnd(c, o); return pre.toString().length; };
	return {value: text, start: off(r.startContainer, r.startOffset), end: off(r.endContainer, r.endOffset)};
}`}

	ScriptInsertAtCaret = Script{Name: "insertAtCaret", Source: `function(text) {
	if (this instanceof HTMLInputElement || this instanceof HTMLTextAreaElement) {
		const n = this.value.length;
		this.setRangeText(text, this.selectionStart ?? n, this.selectionEnd ?? n, 'end');
		this.dispatchEvent(new InputEvent('input', {bubbles: true, composed: true, inputType: 'insertText', data: text}));
		return this.value;
	}
	if (!this.isContentEditable) throw new Error('element is not editable');
	const sel = window.getSelection();
	let range;
	if (sel.rangeCount && this.contains(sel.getRangeAt(0).startContainer)) {
		range = sel.getRangeAt(0);
	} else {
		range = document.createRange();
		range.selectNodeContents(this);
		range.collapse(false);
	}
	range.deleteContents();
	const node = document.createTextNode(text);
	range.insertNode(node);
	range.setStartAfter(node);
	range.collapse(true);
	sel.removeAllRanges();
	sel.addRange(range);
	this.dispatchEvent(new InputEvent('input', {bubbles: true, composed: true, inputType: 'insertText', data: text}));
	return this.textContent;
}`}

	// ScriptCaretEnd collapses the selection to the end of the element's text.
	ScriptCaretEnd = Script{Name: "caretEnd", Source: `function() {
	if (this instanceof HTMLInputElement || this instanceof HTMLTextAreaElement) {
		this.focus();
		const n = this.value.length;
		this.setSelectionRange(n, n);
		return true;
	}
	if (!this.isContentEditable) throw new Error('element is not editable');
	this.focus();
	const range = document.createRange();
	range.selectNodeContents(this);
	range.collapse(false);
	const sel = window.getSelection();
	sel.removeAllRanges();
	sel.addRange(range);
	return true;
}`}

	ScriptFocusWithin = Script{Name: "focusWithin", Source: `function() {
	let a = document.activeElement;
	while (a && a.shadowRoot && a.shadowRoot.activeElement) a = a.shadowRoot.activeElement;
	return a === this || this.contains(a);
}`}

	// ScriptScrollBy(dx, dy) scrolls the element's own container and reports movement.
	ScriptScrollBy = Script{Name: "scrollBy", Source: `function(dx, dy) {
	const left = this.scrollLeft, top = this.scrollTop;
	this.scrollBy(dx, dy);
	return this.scrollLeft !== left || this.scrollTop !== top;
}`}

	ScriptOuterHTML = Script{Name: "outerHTML", Source: `function() {
	return this.outerHTML;
}`}
)

// Page scripts.
var (
	ScriptViewport = Script{Name: "viewport", Source: `function() {
	return {width: window.innerWidth, height: window.innerHeight, scroll_x: window.scrollX, scroll_y: window.scrollY};
}`}

	ScriptWindowScrollTo = Script{Name: "windowScrollTo", Source: `function(x, y) {
	window.scrollTo(x, y);
	return true;
}`}

	ScriptPageInfo = Script{Name: "pageInfo", Source: `function() {
	return {url: location.href, title: document.title};
}`}

	ScriptWindowScrollBy = Script{Name: "windowScrollBy", Source: `function(dx, dy) {
	const x = window.scrollX, y = window.scrollY;
	window.scrollBy(dx, dy);
	return window.scrollX !== x || window.scrollY !== y;
}`}

	// ScriptFocusedField(toEnd) describes the focused element: whether it
	// accepts typed text and its current text. toEnd moves the caret to the
	// end of an editable element first.
	ScriptFocusedField = Script{Name: "focusedField", Source: `function(toEnd) {
	let a = document.activeElement;
	while (a && a.shadowRoot && a.shadowRoot.activeElement) a = a.shadowRoot.activeElement;
	if (!a) return {editable: false, value: ''};
	const field = a instanceof HTMLTextAreaElement ||
		(a instanceof HTMLInputElement && !['checkbox', 'radio', 'file', 'button', 'submit', 'reset', 'image', 'hidden'].includes(a.type));
	if (!field && !a.isContentEditable) return {editable: false, value: ''};
	if (toEnd) {
		if (field) {
			a.setSelectionRange(a.value.length, a.value.length);
		} else {
			const range = document.createRange();
			range.selectNodeContents(a);
			range.collapse(false);
			const sel = window.getSelection();
			sel.removeAllRanges();
			sel.addRange(range);
		}
	}
	return {editable: true, value: field ? a.value : a.textContent};
}`}

	ScriptDocumentHTML = Script{Name: "documentHTML", Source: `function() {
	return document.documentElement.outerHTML;
}`}

	// ScriptScrollToText(text, strategy) scrolls the first element matching
	// text under strategy "exact", "descendant", "attribute" or "walk".
	ScriptScrollToText = Script{Name: "scrollToText", Source: `function(text, strategy) {
	const needle = String(text).trim().toLowerCase();
	if (!needle) return false;
	const visible = el => { const r = el.getBoundingClientRect(); return r.width > 0 || r.height > 0; };
	const all = [];
	const collect = root => { for (const el of root.querySelectorAll('*')) { all.push(el); if (el.shadowRoot) collect(el.shadowRoot); } };
	collect(document);
	const has = el => el.textContent.toLowerCase().includes(needle);
	let hit = null;
	if (strategy === 'exact') {
		hit = all.find(el => visible(el) && el.textContent.trim().toLowerCase() === needle);
	} else if (strategy === 'descendant') {
		hit = all.find(el => visible(el) && has(el) && !Array.from(el.children).some(has));
	} else if (strategy === 'attribute') {
		hit = all.find(el => visible(el) && Array.from(el.attributes).some(a => a.value.toLowerCase().includes(needle)));
	} else {
		const walker = document.createTreeWalker(document.body || document.documentElement, NodeFilter.SHOW_TEXT);
		for (let n = walker.nextNode(); n; n = walker.nextNode()) {
			if (n.data.toLowerCase().includes(needle) && n.parentElement) { hit = n.parentElement; break; }
		}
	}
	if (!hit) return false;
	hit.scrollIntoView({block: 'center', inline: 'nearest'});
	return true;
}`}

	// ScriptDispatchKeys(strokes) fires keyboard events at the focused element.
	ScriptDispatchKeys = Script{Name: "dispatchKeys", Source: `function(strokes) {
	let t = document.activeElement || document.body;
	while (t && t.shadowRoot && t.shadowRoot.activeElement) t = t.shadowRoot.activeElement;
	for (const s of strokes) {
		const init = {key: s.key, code: s.code, ctrlKey: s.ctrl, shiftKey: s.shift, altKey: s.alt, metaKey: s.meta,
			bubbles: true, cancelable: true, composed: true};
		const ok = t.dispatchEvent(new KeyboardEvent('keydown', init));
		if (ok && s.key.length === 1 && !s.ctrl && !s.meta && !s.alt) document.execCommand('insertText', false, s.key);
		t.dispatchEvent(new KeyboardEvent('keyup', init));
	}
	return true;
}`}
)
