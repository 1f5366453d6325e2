/*
Package types defines the records exchanged with the Koha REST API.

# Overview

The types package provides shared type definitions for:
  - Reference data loaded once per run (patron categories, libraries, item types)
  - Ephemeral test entities (patrons, biblios, items)
  - MARC-in-JSON bibliographic records

# Entities

Patron:
  - Created per iteration with random names and a random card number
  - Identified by patron_id once created

Biblio:
  - Created from a MARC-in-JSON Record
  - The API only returns the new id

Item:
  - Attached to a biblio, identified by its barcode (external_id)
  - Checked in and out through the staff interface

# MARC-in-JSON

A Record serialises its fields in order. Control fields encode as
{"001": "value"}; data fields encode as
{"245": {"ind1": "1", "ind2": "0", "subfields": [{"a": "..."}]}}.

# Reference Data

ReferenceData carries the lists loaded during setup and exposes the
identifiers the stub builders need. Missing lists are reported as
ErrNoReferenceData.
*/
package types
