package auth

// PrimaryContact はユーザー作成時に採用する連絡先情報。
type PrimaryContact struct {
	Email     string
	AvatarURL string
}

// SelectPrimaryContact はプロフィールから代表のメールアドレスとアバターURLを選ぶ。
// どちらも先頭要素を採用し、IdPが返さなかった項目は空文字列とする。
func SelectPrimaryContact(profile *Profile) PrimaryContact {
	var contact PrimaryContact
	if profile == nil {
		return contact
	}
	if len(profile.Emails) > 0 {
		contact.Email = profile.Emails[0]
	}
	if len(profile.Photos) > 0 {
		contact.AvatarURL = profile.Photos[0]
	}
	return contact
}
