// Package providers adapts the external SaaS services the portal depends on.
//
// Each capability (telephony, voice, video, translation, business cards and
// the audit ledger) is an interface with a Live implementation that calls the
// configured HTTP API and a Demo implementation that fabricates clearly marked
// results. New picks one implementation per capability at startup from the
// providers section of the gateway config.
//
// Live calls are bounded by providers.timeout and fail with *ProviderError,
// which matches ErrProvider under errors.Is.
package providers
