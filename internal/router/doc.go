// Package router pumps inbound updates and dispatches slash commands.
package router
