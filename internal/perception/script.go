package perception

// scriptForMode returns the single in-page script executed for mode. Every
// mode runs exactly one Evaluate round trip; higher modes simply collect
// more fields in that same round trip rather than chaining calls, so the
// budget in capture() bounds real wall-clock work, not script complexity.
func scriptForMode(mode Mode) string {
	switch mode {
	case Lightning:
		return lightningScript
	case Quick:
		return quickScript
	case Standard:
		return standardScript
	default:
		return deepScript
	}
}

// describeElementFn is shared by every mode's script: it reduces a DOM node
// to the label/role/box/visible tuple decodeElements expects.
const describeElementFn = `
  function describeElement(el, i) {
    const r = el.getBoundingClientRect();
    return {
      selector: cssPath(el),
      label: (el.innerText || el.value || el.getAttribute('aria-label') || el.placeholder || '').trim().slice(0, 120),
      role: el.getAttribute('role') || el.tagName.toLowerCase(),
      visible: r.width > 0 && r.height > 0,
      enabled: !(el.disabled || el.getAttribute('aria-disabled') === 'true'),
      x: r.x, y: r.y, width: r.width, height: r.height,
      doc_order: i,
    };
  }
  function cssPath(el) {
    if (el.id) return '#' + el.id;
    if (el.getAttribute('name')) return el.tagName.toLowerCase() + '[name="' + el.getAttribute('name') + '"]';
    return el.tagName.toLowerCase();
  }
`

const interactiveSelector = `'a,button,input,select,textarea,[role=button],[role=link],[role=searchbox]'`

const lightningScript = describeElementFn + `
(() => {
  const els = Array.from(document.querySelectorAll(` + interactiveSelector + `)).slice(0, 10);
  return { key_elements: els.map((el, i) => describeElement(el, i)) };
})()`

const quickScript = describeElementFn + `
(() => {
  const els = Array.from(document.querySelectorAll(` + interactiveSelector + `));
  return {
    key_elements: els.slice(0, 10).map((el, i) => describeElement(el, i)),
    full_elements: els.map((el, i) => describeElement(el, i)),
  };
})()`

const layoutRegionsFn = `
  function describeLayoutRegions() {
    const regions = [];
    for (const kind of ['nav', 'main', 'aside', 'footer']) {
      document.querySelectorAll(kind + ',[role=' + kind + ']').forEach((el) => {
        regions.push({ kind: kind, selector: cssPath(el) });
      });
    }
    return regions;
  }
`

const standardScript = describeElementFn + layoutRegionsFn + `
(() => {
  const els = Array.from(document.querySelectorAll(` + interactiveSelector + `));
  return {
    key_elements: els.slice(0, 10).map((el, i) => describeElement(el, i)),
    full_elements: els.map((el, i) => describeElement(el, i)),
    layout_regions: describeLayoutRegions(),
    tables: Array.from(document.querySelectorAll('table')).map((t) => t.outerHTML.slice(0, 2000)),
    images: Array.from(document.querySelectorAll('img')).map((img) => img.src),
  };
})()`

const deepSemanticsFn = `
  function classifyPageSemantics() {
    if (document.querySelector('form[action*=login],input[type=password]')) return 'auth';
    if (document.querySelector('[itemtype*=Product],.price,.add-to-cart')) return 'commerce';
    if (document.querySelector('article,[role=article]')) return 'article';
    return 'generic';
  }
  function extractPrincipalContent() {
    const main = document.querySelector('main,article,[role=main]') || document.body;
    return (main.innerText || '').trim().slice(0, 4000);
  }
  function extractEntityHints() {
    const hints = [];
    document.querySelectorAll('[itemtype]').forEach((el) => hints.push(el.getAttribute('itemtype')));
    return hints.slice(0, 20);
  }
`

const deepScript = describeElementFn + layoutRegionsFn + deepSemanticsFn + `
(() => {
  const els = Array.from(document.querySelectorAll(` + interactiveSelector + `));
  return {
    key_elements: els.slice(0, 10).map((el, i) => describeElement(el, i)),
    full_elements: els.map((el, i) => describeElement(el, i)),
    layout_regions: describeLayoutRegions(),
    tables: Array.from(document.querySelectorAll('table')).map((t) => t.outerHTML.slice(0, 2000)),
    images: Array.from(document.querySelectorAll('img')).map((img) => img.src),
    semantic_class: classifyPageSemantics(),
    principal_content: extractPrincipalContent(),
    entity_hints: extractEntityHints(),
  };
})()`
