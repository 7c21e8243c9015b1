package session

// stealthScript runs before any page script and masks the most common
// automation fingerprints.
const stealthScript = `(() => {
  Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
  Object.defineProperty(navigator, 'languages', {get: () => ['zh-CN', 'zh', 'en']});
  Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
  window.chrome = window.chrome || {runtime: {}};
  const query = window.navigator.permissions && window.navigator.permissions.query;
  if (query) {
    window.navigator.permissions.query = (p) =>
      p && p.name === 'notifications'
        ? Promise.resolve({state: Notification.permission})
        : query(p);
  }
})();`

// signScript calls the page's request signer. It yields null when the page
// has not loaded the signer yet.
const signScript = `(() => {
  if (typeof window._webmsxyw !== 'function') { return null; }
  return window._webmsxyw(%q, %s);
})()`
