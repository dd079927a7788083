// Package passport derives and manages the credential packets of a user.
//
// A Passport holds two groups of packets in a Handler:
//
//   - Signing packets (AnMid, AnSmid, AnTmid, AnMaid, Maid, Pmid): key pairs
//     whose name is Hash(public key ++ signature). Maid is signed by AnMaid and
//     Pmid by Maid; the rest sign themselves.
//   - Identity packets (Mid, Smid, Tmid, Stmid): Tmid/Stmid carry the current
//     and previous session payload encrypted under username, PIN and password;
//     Mid/Smid are found by Hash(username ++ PIN [++ appendix]) and point at
//     them.
//
// Every mutation goes through a pending slot first and becomes current only
// when confirmed, so an interrupted session save leaves the previously
// confirmed generation usable. Neither Passport nor Handler lock; callers that
// share one across goroutines must serialise access.
package passport
