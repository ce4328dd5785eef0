package browser

import "fmt"

// Binding is the page function the mutation observer calls.
const Binding = "__modelpinMutated"

// Element scripts take the element as their first parameter and an
// optional argument as the second. Drivers that invoke functions with the
// element bound to this wrap them with Method.
const (
	ScriptText = `(el) => el.innerText`

	ScriptClick = `(el) => { el.click(); }`

	ScriptClickClosest = `(el, sel) => {
	const target = el.closest(sel);
	if (!target) {
		return false;
	}
	target.click();
	return true;
}`

	ScriptFocus = `(el) => { el.focus({ preventScroll: true }); }`
)

// Method adapts an element function for drivers that call it with the
// element as this.
func Method(fn string) string {
	return fmt.Sprintf("function(arg) { return (%s)(this, arg); }", fn)
}

// ObserverScript returns a script that installs one subtree MutationObserver per
// document and calls window[binding] for every batch of mutations. It is
// safe to run more than once and before the body exists.
func ObserverScript(binding string) string {
	return fmt.Sprintf(`(() => {
	if (window.__modelpinObserver) {
		return;
	}
	const notify = () => {
		try {
			window[%[1]q]('');
		} catch (e) {}
	};
	const start = () => {
		const target = document.body || document.documentElement;
		if (!target || window.__modelpinObserver) {
			return !!target;
		}
		window.__modelpinObserver = new MutationObserver(notify);
		window.__modelpinObserver.observe(target, { childList: true, subtree: true });
		notify();
		return true;
	};
	if (!start()) {
		document.addEventListener('DOMContentLoaded', start, { once: true });
	}
})();`, binding)
}
