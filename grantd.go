// Package grantd implements an OAuth2 authorization server speaking the
// authorization-code grant: clients are sent through a consent page, approved
// grants become single-use authorization codes, codes are exchanged for
// rotating access/refresh token pairs, and bearers open a protected resource.
// All grant state lives in memory.
package grantd
