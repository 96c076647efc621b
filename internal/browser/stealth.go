package browser

// stealthScript is injected before any page script runs. It papers over the
// signals headless Chrome leaks that common bot-detection checks look at:
// navigator.webdriver, empty plugin and language lists, the permissions
// query shortcut, and the missing chrome.runtime object.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', { get: () => undefined });

Object.defineProperty(navigator, 'plugins', {
	get: () => [1, 2, 3, 4, 5],
});

Object.defineProperty(navigator, 'languages', {
	get: () => ['en-US', 'en'],
});

const originalQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
	parameters.name === 'notifications'
		? Promise.resolve({ state: Notification.permission })
		: originalQuery(parameters)
);

window.chrome = window.chrome || {};
window.chrome.runtime = window.chrome.runtime || {};
`
