// Package logx configures dialajoke's structured logging.
//
// Components log through logx.Logger, a small wrapper over zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional remote sink (Telegram) receives warnings, rate limited
package logx
