//
// (C) Copyright 2019-2024 Intel Corporation.
//
// SPDX-License-Identifier: BSD-2-Clause-Patent
//

package daos

import (
	"bufio"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

const (
	// ACLPrincipalMaxLen is the maximum length of a principal string.
	ACLPrincipalMaxLen = 255
	// ACLMaxEntries is the maximum number of entries in an ACL.
	ACLMaxEntries = 1024

	// ACLOwnerPrincipal is the special principal matching the owner user.
	ACLOwnerPrincipal = "OWNER@"
	// ACLOwnerGroupPrincipal is the special principal matching the owner group.
	ACLOwnerGroupPrincipal = "GROUP@"
	// ACLEveryonePrincipal is the special principal matching any user.
	ACLEveryonePrincipal = "EVERYONE@"
)

type (
	// ACLAccessType is a bitmask of access entry types.
	ACLAccessType uint8
	// ACLFlag is a bitmask of access entry flags.
	ACLFlag uint8
	// ACLPerm is a bitmask of permissions.
	ACLPerm uint64
	// ACLPrincipalType identifies the kind of principal an entry applies to.
	ACLPrincipalType uint8
)

const (
	ACLAccessAllow ACLAccessType = 1 << iota
	ACLAccessAudit
	ACLAccessAlarm
)

const (
	ACLFlagGroup ACLFlag = 1 << iota
	ACLFlagAccessSuccess
	ACLFlagAccessFail
	ACLFlagPoolInherit
)

const (
	ACLPermRead ACLPerm = 1 << iota
	ACLPermWrite
	ACLPermCreateCont
	ACLPermDelCont
	ACLPermGetProp
	ACLPermSetProp
	ACLPermGetACL
	ACLPermSetACL
	ACLPermSetOwner

	ACLPermAll = ACLPermRead | ACLPermWrite | ACLPermCreateCont | ACLPermDelCont |
		ACLPermGetProp | ACLPermSetProp | ACLPermGetACL | ACLPermSetACL | ACLPermSetOwner
)

// Principal types, in the canonical ACL ordering.
const (
	ACLPrincipalOwner ACLPrincipalType = iota
	ACLPrincipalUser
	ACLPrincipalOwnerGroup
	ACLPrincipalGroup
	ACLPrincipalEveryone
)

var (
	accessTypeChars = []struct {
		c byte
		t ACLAccessType
	}{
		{'A', ACLAccessAllow},
		{'U', ACLAccessAudit},
		{'L', ACLAccessAlarm},
	}
	flagChars = []struct {
		c byte
		f ACLFlag
	}{
		{'G', ACLFlagGroup},
		{'S', ACLFlagAccessSuccess},
		{'F', ACLFlagAccessFail},
		{'P', ACLFlagPoolInherit},
	}
	permChars = []struct {
		c byte
		p ACLPerm
	}{
		{'r', ACLPermRead},
		{'w', ACLPermWrite},
		{'c', ACLPermCreateCont},
		{'d', ACLPermDelCont},
		{'t', ACLPermGetProp},
		{'T', ACLPermSetProp},
		{'a', ACLPermGetACL},
		{'A', ACLPermSetACL},
		{'o', ACLPermSetOwner},
	}
)

func (pt ACLPrincipalType) String() string {
	return strVal(int(pt), []string{"owner", "user", "owner-group", "group", "everyone"}, "unknown")
}

func (p ACLPerm) String() string {
	var b strings.Builder
	for _, pc := range permChars {
		if p&pc.p != 0 {
			b.WriteByte(pc.c)
		}
	}
	return b.String()
}

// ParseACLPerms parses a permission string such as "rwt".
func ParseACLPerms(in string) (ACLPerm, error) {
	var perms ACLPerm
	for i := 0; i < len(in); i++ {
		found := false
		for _, pc := range permChars {
			if in[i] == pc.c {
				perms |= pc.p
				found = true
				break
			}
		}
		if !found {
			return 0, errors.Wrapf(InvalidInput, "invalid permission %q", in[i])
		}
	}
	return perms, nil
}

// ACLPrincipalIsValid returns true if the principal is a valid
// "name@[domain]" string.
func ACLPrincipalIsValid(principal string) bool {
	if len(principal) == 0 || len(principal) > ACLPrincipalMaxLen {
		return false
	}
	at := strings.IndexByte(principal, '@')
	if at < 1 {
		return false
	}
	if strings.IndexByte(principal[at+1:], '@') >= 0 {
		return false
	}
	return !strings.ContainsAny(principal, ": \t\n")
}

// AccessControlEntry is a single entry in an access control list.
type AccessControlEntry struct {
	AccessTypes   ACLAccessType
	Flags         ACLFlag
	PrincipalType ACLPrincipalType
	Principal     string
	AllowPerms    ACLPerm
	AuditPerms    ACLPerm
	AlarmPerms    ACLPerm
}

// NewAllowACE returns an allow entry for the principal string, which may
// be one of the special principals.
func NewAllowACE(principal string, group bool, perms ACLPerm) (*AccessControlEntry, error) {
	ace := &AccessControlEntry{
		AccessTypes: ACLAccessAllow,
		AllowPerms:  perms,
	}
	if group {
		ace.Flags |= ACLFlagGroup
	}
	if err := ace.setPrincipal(principal); err != nil {
		return nil, err
	}
	if err := ace.Validate(); err != nil {
		return nil, err
	}
	return ace, nil
}

func (ace *AccessControlEntry) setPrincipal(principal string) error {
	isGroup := ace.Flags&ACLFlagGroup != 0
	switch principal {
	case ACLOwnerPrincipal:
		ace.PrincipalType = ACLPrincipalOwner
	case ACLOwnerGroupPrincipal:
		ace.PrincipalType = ACLPrincipalOwnerGroup
	case ACLEveryonePrincipal:
		ace.PrincipalType = ACLPrincipalEveryone
	default:
		if !ACLPrincipalIsValid(principal) {
			return errors.Wrapf(InvalidInput, "invalid principal %q", principal)
		}
		if isGroup {
			ace.PrincipalType = ACLPrincipalGroup
		} else {
			ace.PrincipalType = ACLPrincipalUser
		}
		ace.Principal = principal
	}
	return nil
}

// PrincipalName returns the principal in its textual form.
func (ace *AccessControlEntry) PrincipalName() string {
	switch ace.PrincipalType {
	case ACLPrincipalOwner:
		return ACLOwnerPrincipal
	case ACLPrincipalOwnerGroup:
		return ACLOwnerGroupPrincipal
	case ACLPrincipalEveryone:
		return ACLEveryonePrincipal
	default:
		return ace.Principal
	}
}

// Perms returns the permissions granted by the allow type, if present.
func (ace *AccessControlEntry) Perms() ACLPerm {
	if ace.AccessTypes&ACLAccessAllow == 0 {
		return 0
	}
	return ace.AllowPerms
}

// Validate checks the internal consistency of the entry.
func (ace *AccessControlEntry) Validate() error {
	if ace == nil {
		return errors.Wrap(InvalidInput, "nil ACE")
	}

	isGroup := ace.Flags&ACLFlagGroup != 0
	switch ace.PrincipalType {
	case ACLPrincipalOwnerGroup, ACLPrincipalGroup:
		if !isGroup {
			return errors.Wrapf(InvalidInput, "%s entry requires the group flag", ace.PrincipalName())
		}
	case ACLPrincipalOwner, ACLPrincipalUser, ACLPrincipalEveryone:
		if isGroup {
			return errors.Wrapf(InvalidInput, "%s entry may not carry the group flag", ace.PrincipalName())
		}
	default:
		return errors.Wrapf(InvalidInput, "unknown principal type %d", ace.PrincipalType)
	}

	if ace.PrincipalType == ACLPrincipalUser || ace.PrincipalType == ACLPrincipalGroup {
		if !ACLPrincipalIsValid(ace.Principal) {
			return errors.Wrapf(InvalidInput, "invalid principal %q", ace.Principal)
		}
	} else if ace.Principal != "" {
		return errors.Wrapf(InvalidInput, "special principal %s may not have a name", ace.PrincipalName())
	}

	hasAudit := ace.AccessTypes&(ACLAccessAudit|ACLAccessAlarm) != 0
	hasAuditFlag := ace.Flags&(ACLFlagAccessSuccess|ACLFlagAccessFail) != 0
	if hasAudit && !hasAuditFlag {
		return errors.Wrap(InvalidInput, "audit/alarm entry requires an access success or failure flag")
	}
	if hasAuditFlag && !hasAudit {
		return errors.Wrap(InvalidInput, "access success or failure flag requires an audit/alarm type")
	}

	for _, p := range []ACLPerm{ace.AllowPerms, ace.AuditPerms, ace.AlarmPerms} {
		if p&^ACLPermAll != 0 {
			return errors.Wrap(InvalidInput, "invalid permission bits")
		}
	}

	return nil
}

// String returns the short text form of the entry. Entries that carry
// different permissions per access type cannot be expressed and yield an
// empty string; use Format to get the error.
func (ace *AccessControlEntry) String() string {
	s, err := ace.Format()
	if err != nil {
		return ""
	}
	return s
}

// Format returns the short text form of the entry.
func (ace *AccessControlEntry) Format() (string, error) {
	if err := ace.Validate(); err != nil {
		return "", err
	}

	var perms *ACLPerm
	for _, tp := range []struct {
		t ACLAccessType
		p ACLPerm
	}{
		{ACLAccessAllow, ace.AllowPerms},
		{ACLAccessAudit, ace.AuditPerms},
		{ACLAccessAlarm, ace.AlarmPerms},
	} {
		if ace.AccessTypes&tp.t == 0 {
			continue
		}
		p := tp.p
		if perms != nil && *perms != p {
			return "", errors.Wrap(InvalidInput, "access types have different permissions")
		}
		perms = &p
	}

	var b strings.Builder
	for _, tc := range accessTypeChars {
		if ace.AccessTypes&tc.t != 0 {
			b.WriteByte(tc.c)
		}
	}
	b.WriteByte(':')
	for _, fc := range flagChars {
		if ace.Flags&fc.f != 0 {
			b.WriteByte(fc.c)
		}
	}
	b.WriteByte(':')
	b.WriteString(ace.PrincipalName())
	b.WriteByte(':')
	if perms != nil {
		b.WriteString(perms.String())
	}

	return b.String(), nil
}

// ParseACE parses an entry in the "TYPES:FLAGS:PRINCIPAL:PERMS" form.
func ParseACE(in string) (*AccessControlEntry, error) {
	fields := strings.Split(in, ":")
	if len(fields) != 4 {
		return nil, errors.Wrapf(InvalidInput, "invalid ACE %q (must be TYPES:FLAGS:PRINCIPAL:PERMS)", in)
	}

	ace := new(AccessControlEntry)
	for i := 0; i < len(fields[0]); i++ {
		found := false
		for _, tc := range accessTypeChars {
			if fields[0][i] == tc.c {
				ace.AccessTypes |= tc.t
				found = true
			}
		}
		if !found {
			return nil, errors.Wrapf(InvalidInput, "invalid access type %q in ACE %q", fields[0][i], in)
		}
	}
	for i := 0; i < len(fields[1]); i++ {
		found := false
		for _, fc := range flagChars {
			if fields[1][i] == fc.c {
				ace.Flags |= fc.f
				found = true
			}
		}
		if !found {
			return nil, errors.Wrapf(InvalidInput, "invalid flag %q in ACE %q", fields[1][i], in)
		}
	}

	if err := ace.setPrincipal(fields[2]); err != nil {
		return nil, err
	}

	perms, err := ParseACLPerms(fields[3])
	if err != nil {
		return nil, err
	}
	if ace.AccessTypes&ACLAccessAllow != 0 {
		ace.AllowPerms = perms
	}
	if ace.AccessTypes&ACLAccessAudit != 0 {
		ace.AuditPerms = perms
	}
	if ace.AccessTypes&ACLAccessAlarm != 0 {
		ace.AlarmPerms = perms
	}

	if err := ace.Validate(); err != nil {
		return nil, err
	}
	return ace, nil
}

func (ace *AccessControlEntry) key() aceKey {
	return aceKey{ace.PrincipalType, ace.Principal}
}

type aceKey struct {
	pt   ACLPrincipalType
	name string
}

// AccessControlList is an ordered set of entries, at most one per principal.
type AccessControlList struct {
	Entries []*AccessControlEntry
}

// NewACL creates an ACL from the supplied entries.
func NewACL(entries ...*AccessControlEntry) (*AccessControlList, error) {
	acl := new(AccessControlList)
	for _, ace := range entries {
		if err := acl.Add(ace); err != nil {
			return nil, err
		}
	}
	return acl, nil
}

// MustParseACL parses the entries and panics on error.
func MustParseACL(entries ...string) *AccessControlList {
	acl, err := ParseACL(strings.NewReader(strings.Join(entries, "\n")))
	if err != nil {
		panic(err)
	}
	return acl
}

// DefaultPoolACL returns the ACL applied to a new pool when none is supplied.
func DefaultPoolACL() *AccessControlList {
	return MustParseACL("A::OWNER@:rwdtTaAo", "A:G:GROUP@:rwtT")
}

// DefaultContainerACL returns the ACL applied to a new container when none
// is supplied.
func DefaultContainerACL() *AccessControlList {
	return MustParseACL("A::OWNER@:rwdtTaAo", "A:G:GROUP@:rwtT")
}

// Empty returns true if the ACL has no entries.
func (acl *AccessControlList) Empty() bool {
	return acl == nil || len(acl.Entries) == 0
}

func (acl *AccessControlList) find(key aceKey) int {
	for i, ace := range acl.Entries {
		if ace.key() == key {
			return i
		}
	}
	return -1
}

func (acl *AccessControlList) sort() {
	sort.SliceStable(acl.Entries, func(i, j int) bool {
		return acl.Entries[i].PrincipalType < acl.Entries[j].PrincipalType
	})
}

// Add inserts the entry, replacing an existing entry for the same principal.
func (acl *AccessControlList) Add(ace *AccessControlEntry) error {
	if err := ace.Validate(); err != nil {
		return err
	}

	cp := *ace
	if idx := acl.find(ace.key()); idx >= 0 {
		acl.Entries[idx] = &cp
		return nil
	}
	if len(acl.Entries) >= ACLMaxEntries {
		return errors.Wrap(NoSpace, "ACL is full")
	}
	acl.Entries = append(acl.Entries, &cp)
	acl.sort()
	return nil
}

// Merge adds every entry in other, replacing existing entries for the
// same principals.
func (acl *AccessControlList) Merge(other *AccessControlList) error {
	if other == nil {
		return nil
	}
	for _, ace := range other.Entries {
		if err := acl.Add(ace); err != nil {
			return err
		}
	}
	return nil
}

func principalKey(pt ACLPrincipalType, name string) aceKey {
	switch pt {
	case ACLPrincipalUser, ACLPrincipalGroup:
		return aceKey{pt, name}
	default:
		return aceKey{pt, ""}
	}
}

// Get returns the entry for the principal, or Nonexistent.
func (acl *AccessControlList) Get(pt ACLPrincipalType, name string) (*AccessControlEntry, error) {
	idx := acl.find(principalKey(pt, name))
	if idx < 0 {
		return nil, errors.Wrapf(Nonexistent, "no ACL entry for %s %s", pt, name)
	}
	return acl.Entries[idx], nil
}

// Remove deletes the entry for the principal, or returns Nonexistent.
func (acl *AccessControlList) Remove(pt ACLPrincipalType, name string) error {
	idx := acl.find(principalKey(pt, name))
	if idx < 0 {
		return errors.Wrapf(Nonexistent, "no ACL entry for %s %s", pt, name)
	}
	acl.Entries = append(acl.Entries[:idx], acl.Entries[idx+1:]...)
	return nil
}

// ParsePrincipal parses a principal string such as "u:user@" or "g:grp@",
// or one of the special principals.
func ParsePrincipal(in string) (ACLPrincipalType, string, error) {
	switch in {
	case ACLOwnerPrincipal:
		return ACLPrincipalOwner, "", nil
	case ACLOwnerGroupPrincipal:
		return ACLPrincipalOwnerGroup, "", nil
	case ACLEveryonePrincipal:
		return ACLPrincipalEveryone, "", nil
	}

	parts := strings.SplitN(in, ":", 2)
	if len(parts) != 2 {
		return 0, "", errors.Wrapf(InvalidInput, "invalid principal %q (must be u:name@ or g:name@)", in)
	}
	if !ACLPrincipalIsValid(parts[1]) {
		return 0, "", errors.Wrapf(InvalidInput, "invalid principal %q", in)
	}
	switch parts[0] {
	case "u", "user":
		return ACLPrincipalUser, parts[1], nil
	case "g", "group":
		return ACLPrincipalGroup, parts[1], nil
	default:
		return 0, "", errors.Wrapf(InvalidInput, "invalid principal type %q", parts[0])
	}
}

// Validate checks every entry and rejects duplicate principals.
func (acl *AccessControlList) Validate() error {
	if acl == nil {
		return errors.Wrap(InvalidInput, "nil ACL")
	}
	if len(acl.Entries) > ACLMaxEntries {
		return errors.Wrap(InvalidInput, "too many ACL entries")
	}

	seen := make(map[aceKey]struct{})
	for i, ace := range acl.Entries {
		if err := ace.Validate(); err != nil {
			return err
		}
		if _, dup := seen[ace.key()]; dup {
			return errors.Wrapf(InvalidInput, "duplicate ACL entry for %s", ace.PrincipalName())
		}
		seen[ace.key()] = struct{}{}
		if i > 0 && acl.Entries[i-1].PrincipalType > ace.PrincipalType {
			return errors.Wrap(InvalidInput, "ACL entries are out of order")
		}
	}
	return nil
}

// Copy returns a deep copy of the ACL.
func (acl *AccessControlList) Copy() *AccessControlList {
	if acl == nil {
		return nil
	}
	out := &AccessControlList{Entries: make([]*AccessControlEntry, 0, len(acl.Entries))}
	for _, ace := range acl.Entries {
		cp := *ace
		out.Entries = append(out.Entries, &cp)
	}
	return out
}

// Strings returns the short text form of each entry.
func (acl *AccessControlList) Strings() []string {
	if acl == nil {
		return nil
	}
	out := make([]string, 0, len(acl.Entries))
	for _, ace := range acl.Entries {
		out = append(out, ace.String())
	}
	return out
}

// String displays the AccessControlList with one entry per line.
func (acl *AccessControlList) String() string {
	return strings.Join(acl.Strings(), "\n")
}

func (acl *AccessControlList) MarshalJSON() ([]byte, error) {
	return json.Marshal(acl.Strings())
}

func (acl *AccessControlList) UnmarshalJSON(data []byte) error {
	var entries []string
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	parsed, err := ParseACL(strings.NewReader(strings.Join(entries, "\n")))
	if err != nil {
		return err
	}
	*acl = *parsed
	return nil
}

// ParseACL reads the content from io.Reader and returns the parsed ACL.
// One entry per line; blank lines and lines starting with "#" are ignored.
func ParseACL(reader io.Reader) (*AccessControlList, error) {
	acl := new(AccessControlList)
	seen := make(map[aceKey]struct{})

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		ace, err := ParseACE(line)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ace.key()]; dup {
			return nil, errors.Wrapf(InvalidInput, "duplicate ACL entry for %s", ace.PrincipalName())
		}
		seen[ace.key()] = struct{}{}
		if err := acl.Add(ace); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WithMessage(err, "reading ACL")
	}

	return acl, nil
}
