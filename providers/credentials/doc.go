// Package credentials holds the session state a webchat provider needs to
// pass as a browser: bearer token, cookies, captured request headers, and the
// challenge material harvested alongside them.
//
// A [Store] is an explicit session object owned by one provider client.
// Concurrent turns share it; cookie merges are last-writer-wins and
// re-acquisition is deduplicated through [Store.Refresh]. A [BoltPersister]
// lets a restarted process reuse a still-valid session.
package credentials
