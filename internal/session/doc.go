// Package session drives a Chrome instance through chromedp to obtain an
// authenticated platform session: it launches the browser behind an optional
// proxy, hides automation markers, injects bootstrap cookies, performs the
// QR code, phone or cookie login and exports the resulting cookies. The same
// browser tab signs API requests for the remote client.
package session
