// Package auth acquires a browser session for the chat backend.
//
// Two strategies implement [Acquirer]: [HARImporter] reads HAR archives
// exported from a logged-in browser, and [BrowserAcquirer] drives a live
// browser (by default [ChromeBrowser] on chromedp) and harvests the session
// from its network traffic. [Chain] tries them in order and moves on only
// when a strategy reports [ErrNoValidSession].
package auth
