// Package api exposes the REST surface of workshopd: submitting and querying
// workflow runs, the session endpoints used by the wallet UI, and the wallet
// address/balance views the UI polls.
package api
