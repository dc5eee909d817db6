package main

import "github.com/mautops/moneylens/cmd"

// @title           MoneyLens API
// @version         1.0
// @description     Chain gateway and off-chain ledger for departmental spending
// @BasePath        /api

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the token returned by /login
func main() {
	cmd.Execute()
}
