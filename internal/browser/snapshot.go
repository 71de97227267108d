package browser

// snapshotScript builds the indexed interactive-element tree the model
// reasons over. Interactive elements get a data-ai-id attribute matching the
// [n] index in the tree, which the action methods target by selector.
// Elements outside the viewport are skipped until the agent scrolls.
const snapshotScript = `() => {
	let idCounter = 1;
	const interactiveTags = new Set(['a', 'button', 'input', 'textarea', 'select', 'details', 'summary']);

	document.querySelectorAll('[data-ai-id]').forEach(el => el.removeAttribute('data-ai-id'));

	function cleanText(text) {
		if (!text) return '';
		let res = text.replace(/\s+/g, ' ').trim();
		if (res.length > 100) {
			return res.slice(0, 100) + '...';
		}
		return res;
	}

	function isVisible(el) {
		if (!el || !el.getBoundingClientRect) return false;
		if (el.getAttribute('aria-hidden') === 'true') return false;

		const rect = el.getBoundingClientRect();
		const style = window.getComputedStyle(el);
		const inViewport = (
			rect.top < window.innerHeight &&
			rect.bottom > 0 &&
			rect.left < window.innerWidth &&
			rect.right > 0
		);

		return rect.width > 0 && rect.height > 0 &&
			style.visibility !== 'hidden' &&
			style.display !== 'none' &&
			style.opacity !== '0' &&
			inViewport;
	}

	function isInteractive(el) {
		const tag = el.tagName.toLowerCase();
		const role = (el.getAttribute('role') || '').toLowerCase();
		const tabIndex = el.getAttribute('tabindex');

		return interactiveTags.has(tag) ||
			['button', 'link', 'checkbox', 'menuitem', 'tab', 'textbox', 'combobox', 'option'].includes(role) ||
			(tabIndex !== null && tabIndex !== '-1') ||
			el.onclick != null;
	}

	function escapeAttr(value) {
		return value.replace(/"/g, '\\"');
	}

	function inDialog(el) {
		let cur = el;
		while (cur && cur !== document.body) {
			const role = (cur.getAttribute('role') || '').toLowerCase();
			if (role === 'dialog' || role === 'alertdialog' || cur.getAttribute('aria-modal') === 'true') {
				return true;
			}
			cur = cur.parentElement;
		}
		return false;
	}

	function getKind(el) {
		const tag = el.tagName.toLowerCase();
		const role = (el.getAttribute('role') || '').toLowerCase();
		const type = (el.getAttribute('type') || '').toLowerCase();

		if (tag === 'button' || role === 'button') return 'button';
		if (tag === 'a' || role === 'link') return 'link';
		if (tag === 'input') {
			if (type === 'checkbox') return 'checkbox';
			if (type === 'radio') return 'radio';
			if (type === 'search') return 'search';
			return 'input';
		}
		return '';
	}

	function findActiveModal() {
		const selectors = ['[role="dialog"]', '[role="alertdialog"]', '[aria-modal="true"]', '.modal', '.overlay'];
		const candidates = Array.from(document.querySelectorAll(selectors.join(',')));
		let best = null;
		let bestZ = -Infinity;
		for (const el of candidates) {
			if (!isVisible(el)) continue;
			let z = parseInt(window.getComputedStyle(el).zIndex || '0', 10);
			if (Number.isNaN(z)) z = 0;
			if (z >= bestZ) {
				bestZ = z;
				best = el;
			}
		}
		return best;
	}

	const activeModal = findActiveModal();
	const root = activeModal || document.body;
	const header = activeModal ? "=== ACTIVE DIALOG ===\n" : "";

	function traverse(node, depth) {
		if (!node || depth > 20) return '';

		if (node.nodeType === Node.TEXT_NODE) {
			const text = cleanText(node.textContent);
			if (text.length > 2) {
				return '  '.repeat(depth) + text + '\n';
			}
			return '';
		}

		if (node.nodeType !== Node.ELEMENT_NODE) return '';

		const el = node;
		if (!isVisible(el)) return '';

		let output = '';
		const prefix = '  '.repeat(depth);
		const tag = el.tagName.toLowerCase();

		if (['script', 'style', 'svg', 'path', 'noscript'].includes(tag)) return '';

		if (isInteractive(el)) {
			const aiId = idCounter++;
			el.setAttribute('data-ai-id', String(aiId));

			const parts = ['<' + tag];

			let label = cleanText(el.innerText || el.textContent || '');
			if (!label) label = cleanText(el.getAttribute('aria-label') || '');
			if (!label) label = cleanText(el.getAttribute('title') || '');
			if ((tag === 'input' || tag === 'textarea') && !label) {
				label = cleanText(el.getAttribute('placeholder') || '');
			}
			if (label) parts.push('label="' + escapeAttr(label) + '"');

			const kind = getKind(el);
			if (kind) parts.push('kind="' + kind + '"');
			if (inDialog(el)) parts.push('context="dialog"');

			if (tag === 'input' || tag === 'textarea') {
				const val = cleanText(el.value);
				if (val) parts.push('value="' + escapeAttr(val) + '"');
			}

			output += prefix + '[' + aiId + '] ' + parts.join(' ') + '>\n';
		} else if (['h1', 'h2', 'h3', 'h4', 'h5'].includes(tag)) {
			output += prefix + '<' + tag + '> ' + cleanText(el.innerText) + '\n';
		}

		for (const child of el.childNodes) {
			output += traverse(child, depth + 1);
		}
		return output;
	}

	return header + traverse(root, 0);
}`

// clickHelperScript runs with "this" bound to the target element. It climbs
// to the nearest clickable ancestor and handles labels wrapping radio or
// checkbox inputs, which swallow direct clicks on many sites.
const clickHelperScript = `function() {
	try {
		if (this.scrollIntoViewIfNeeded) {
			this.scrollIntoViewIfNeeded();
		} else if (this.scrollIntoView) {
			this.scrollIntoView({ block: "center", inline: "center" });
		}

		const isClickable = (el) => {
			if (!el) return false;
			const tag = (el.tagName || "").toLowerCase();
			const role = (el.getAttribute && (el.getAttribute("role") || "").toLowerCase()) || "";

			if (tag === "button" || tag === "a" || tag === "label") return true;
			if (tag === "input") {
				const type = (el.type || "").toLowerCase();
				if (type === "button" || type === "submit" || type === "radio" || type === "checkbox") return true;
			}
			return role === "button" || role === "link" || role === "radio" || role === "checkbox";
		};

		const clickInputInLabel = (label) => {
			if (!label) return false;
			const input = label.querySelector("input[type='radio'],input[type='checkbox']");
			if (input) {
				input.click();
				return true;
			}
			return false;
		};

		let el = this;
		if (el.closest && clickInputInLabel(el.closest("label"))) {
			return;
		}
		for (let i = 0; i < 5 && el; i++) {
			if (isClickable(el)) {
				if (el.tagName && el.tagName.toLowerCase() === "label" && clickInputInLabel(el)) return;
				el.click();
				return;
			}
			el = el.parentElement;
		}
		this.click();
	} catch (e) {
		console.log("click helper error", e);
	}
}`

const scrollScript = `window.scrollBy({top: 500, behavior: 'smooth'});`
