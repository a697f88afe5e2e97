// Package realtime provides the change-notification contract used by the live
// views: producers (Postgres LISTEN/NOTIFY, Pub/Sub, the in-process store)
// publish row-level ChangeEvents into a non-blocking Hub, which fans them out
// to per-table Subscriptions. Consumers never see vendor subscription objects.
package realtime
